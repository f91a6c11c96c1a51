package handlers

import (
	"net/http"

	"github.com/malbeclabs/rewards/api/config"
)

// PublicConfig holds configuration that is safe to expose to the frontend
type PublicConfig struct {
	NetworkName            string `json:"networkName"`
	RPCURL                 string `json:"rpcUrl"`
	DistributorAddress     string `json:"distributorAddress"`
	RewardTokenAddress     string `json:"rewardTokenAddress"`
	RewardSourceNFTAddress string `json:"rewardSourceNftAddress"`
	IPFSGatewayURL         string `json:"ipfsGatewayUrl"`
	WalletConnectProjectID string `json:"walletConnectProjectId"`
	SentryEnvironment      string `json:"sentryEnvironment,omitempty"`
	ClaimsEnabled          bool   `json:"claimsEnabled"`
	VerifyProofs           bool   `json:"verifyProofs"`
}

func NewPublicConfig(cfg config.Config) PublicConfig {
	return PublicConfig{
		NetworkName:            cfg.NetworkName,
		RPCURL:                 cfg.RPCURL,
		DistributorAddress:     cfg.DistributorAddress.Hex(),
		RewardTokenAddress:     cfg.RewardTokenAddress.Hex(),
		RewardSourceNFTAddress: cfg.RewardSourceNFTAddress.Hex(),
		IPFSGatewayURL:         cfg.PublicGatewayURL(),
		WalletConnectProjectID: cfg.WalletConnectProjectID,
		SentryEnvironment:      cfg.SentryEnvironment,
		ClaimsEnabled:          cfg.ClaimsEnabled(),
		VerifyProofs:           cfg.VerifyProofs,
	}
}

// GetConfig returns public configuration for the frontend
func GetConfig(pc PublicConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, pc)
	}
}
