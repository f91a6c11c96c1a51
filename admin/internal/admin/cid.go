package admin

import (
	"fmt"

	"github.com/malbeclabs/rewards/rewards/pkg/ipfs"
)

// CIDOfDigest prints the CID addressing an on-chain ipfsHash digest.
func (a *Admin) CIDOfDigest(digest string) error {
	c, err := ipfs.DigestToCID(digest)
	if err != nil {
		return err
	}
	a.printf("%s\n", c)
	return nil
}

// DigestOfCID prints the digest to store on chain for cid.
func (a *Admin) DigestOfCID(c string) error {
	d, err := ipfs.CIDToDigest(c)
	if err != nil {
		return fmt.Errorf("failed to get digest: %w", err)
	}
	a.printf("%s\n", d)
	return nil
}
