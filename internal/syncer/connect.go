package syncer

import (
	"context"
	"strings"

	"tradepulse/internal/errs"
	"tradepulse/internal/exchange"
	"tradepulse/internal/exchange/bybit"
	"tradepulse/internal/logger"
	"tradepulse/internal/models"

	"go.uber.org/zap"
)

// Binance keys and secrets are far longer; shorter values are typos.
const minBinanceCredentialLen = 10

// ConnectInput carries the values a user submits to connect an account.
type ConnectInput struct {
	APIKey    string `json:"apiKey"`
	APISecret string `json:"apiSecret"`
	Label     string `json:"label"`
	Category  string `json:"category"`
}

// Connect verifies the credentials against the exchange, then stores them
// encrypted on the (user, broker) account, creating it when needed.
func (s *Service) Connect(ctx context.Context, userID string, broker models.Broker, in ConnectInput) (*models.BrokerAccount, error) {
	if err := s.vault.Check(); err != nil {
		return nil, err
	}
	adapter, err := s.adapter(broker)
	if err != nil {
		return nil, err
	}

	creds, err := validateInput(broker, in)
	if err != nil {
		return nil, err
	}
	l := s.logger.With(zap.String("broker", string(broker)), zap.String("user_id", userID), logger.KeyHint(creds.APIKey))

	if err := adapter.VerifyCredentials(ctx, creds); err != nil {
		l.Warn("Credential verification failed", zap.Error(err))
		return nil, err
	}

	keyEnc, err := s.vault.Encrypt(creds.APIKey)
	if err != nil {
		return nil, err
	}
	secretEnc, err := s.vault.Encrypt(creds.APISecret)
	if err != nil {
		return nil, err
	}

	label := strings.TrimSpace(in.Label)
	if label == "" {
		label = broker.DefaultLabel()
	}
	account, err := s.store.UpsertAccount(ctx, models.BrokerAccount{
		UserID:       userID,
		Broker:       broker,
		Label:        label,
		APIKeyEnc:    keyEnc,
		APISecretEnc: secretEnc,
		Category:     creds.Category,
	})
	if err != nil {
		return nil, err
	}
	l.Info("Broker account connected", zap.String("account_id", account.ID))
	return account, nil
}

// TestConnection re-verifies the stored credentials without changing anything.
func (s *Service) TestConnection(ctx context.Context, userID string, broker models.Broker) error {
	if err := s.vault.Check(); err != nil {
		return err
	}
	adapter, err := s.adapter(broker)
	if err != nil {
		return err
	}
	account, err := s.findAccount(ctx, userID, broker)
	if err != nil {
		return err
	}
	creds, err := s.credentials(account)
	if err != nil {
		return err
	}
	return adapter.VerifyCredentials(ctx, creds)
}

func validateInput(broker models.Broker, in ConnectInput) (exchange.Credentials, error) {
	creds := exchange.Credentials{
		APIKey:    strings.TrimSpace(in.APIKey),
		APISecret: strings.TrimSpace(in.APISecret),
	}
	if creds.APIKey == "" || creds.APISecret == "" {
		return creds, errs.New(errs.KindInvalid, errs.WithMessage("API key and secret are required"))
	}

	switch broker {
	case models.BrokerBinanceFutures:
		if len(creds.APIKey) < minBinanceCredentialLen || len(creds.APISecret) < minBinanceCredentialLen {
			return creds, errs.New(errs.KindInvalid, errs.WithMessage("API key or secret looks too short"))
		}
	case models.BrokerBybitFutures:
		category, err := bybit.NormalizeCategory(in.Category)
		if err != nil {
			return creds, err
		}
		creds.Category = category
	}
	return creds, nil
}
