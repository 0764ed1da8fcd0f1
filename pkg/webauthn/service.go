// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-passkey.
//
// go-passkey is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

// Package webauthn implements a WebAuthn relying party core: ceremony option
// building, attestation and assertion validation, credential persistence,
// and a consumable challenge cache. The hosting application supplies account
// resolution and transports; this package owns the protocol.
package webauthn

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jeremyhahn/go-passkey/pkg/logging"
	"github.com/jeremyhahn/go-passkey/pkg/metrics"
)

// TokenIssuer mints a session artifact after a successful authentication.
// Optional; when absent, FinishAuthentication returns an empty token and the
// hosting application establishes its own session.
type TokenIssuer interface {
	IssueToken(ctx context.Context, account *Account, record *CredentialRecord) (string, error)
}

// ServiceParams collects the collaborators a Service needs.
type ServiceParams struct {
	Config      *Config
	Challenges  ChallengeStore
	Credentials *Repository
	Accounts    AccountResolver

	// Tokens is optional.
	Tokens TokenIssuer

	// Logger is optional; defaults to the package default logger.
	Logger *logging.Logger
}

// Service orchestrates full ceremonies: it issues options, parks challenges,
// runs the validator, and commits results to the credential repository.
type Service struct {
	config      *Config
	validator   *Validator
	challenges  ChallengeStore
	credentials *Repository
	accounts    AccountResolver
	tokens      TokenIssuer
	logger      *logging.Logger
}

// NewService creates a relying party service. The config is validated after
// defaults are applied.
func NewService(params *ServiceParams) (*Service, error) {
	if params == nil || params.Config == nil {
		return nil, wrapError("new service", fmt.Errorf("%w: missing config", ErrInvalidConfig))
	}
	params.Config.SetDefaults()
	if err := params.Config.Validate(); err != nil {
		return nil, wrapError("new service", err)
	}
	if params.Challenges == nil {
		return nil, wrapError("new service", fmt.Errorf("%w: missing challenge store", ErrInvalidConfig))
	}
	if params.Credentials == nil {
		return nil, wrapError("new service", fmt.Errorf("%w: missing credential repository", ErrInvalidConfig))
	}
	if params.Accounts == nil {
		return nil, wrapError("new service", fmt.Errorf("%w: missing account resolver", ErrInvalidConfig))
	}

	logger := params.Logger
	if logger == nil {
		logger = logging.DefaultLogger()
	}

	return &Service{
		config:      params.Config,
		validator:   NewValidator(params.Config),
		challenges:  params.Challenges,
		credentials: params.Credentials,
		accounts:    params.Accounts,
		tokens:      params.Tokens,
		logger:      logger,
	}, nil
}

// Config returns the relying party configuration.
func (s *Service) Config() *Config {
	return s.config
}

// Credentials returns the credential repository, for management surfaces
// (listing, deleting, relabeling).
func (s *Service) Credentials() *Repository {
	return s.credentials
}

// AuthenticationResult is the outcome of a completed authentication
// ceremony.
type AuthenticationResult struct {
	// Account is the resolved owner of the asserted credential.
	Account *Account `json:"account"`

	// Credential is the updated credential record.
	Credential *CredentialRecord `json:"credential"`

	// Token is the issued session artifact, empty when no TokenIssuer is
	// configured.
	Token string `json:"token,omitempty"`
}

// BeginRegistration starts a registration ceremony for an existing account.
// It returns the creation options and the request ID under which the
// challenge was parked; the client must present the request ID when it
// completes the ceremony.
func (s *Service) BeginRegistration(ctx context.Context, identity string) (*RegistrationOptions, string, error) {
	const op = "begin registration"
	start := time.Now()

	account, err := s.accounts.LookupAccount(ctx, identity)
	if err != nil {
		s.observe(metrics.CeremonyRegistration, start, err)
		return nil, "", wrapError(op, err)
	}

	existing, err := s.credentials.FindAllForIdentity(ctx, identity)
	if err != nil {
		s.observe(metrics.CeremonyRegistration, start, err)
		return nil, "", wrapError(op, err)
	}

	options, err := BuildRegistrationOptions(s.config, account, existing)
	if err != nil {
		s.observe(metrics.CeremonyRegistration, start, err)
		return nil, "", wrapError(op, err)
	}

	requestID := uuid.NewString()
	if err := s.challenges.Put(ctx, requestID, options.Challenge, s.config.ChallengeTTL); err != nil {
		s.observe(metrics.CeremonyRegistration, start, err)
		return nil, "", wrapError(op, err)
	}

	s.logger.Debug("registration options issued",
		"identity", identity,
		"request_id", requestID,
		"exclude_count", len(options.ExcludeCredentials))
	s.observe(metrics.CeremonyRegistration, start, nil)
	return options, requestID, nil
}

// FinishRegistration completes a registration ceremony. rawResponse is the
// PublicKeyCredential JSON from the client. label optionally names the new
// credential. On success the credential is bound to identity and persisted.
func (s *Service) FinishRegistration(ctx context.Context, requestID, identity string, rawResponse []byte, label string) (*CredentialRecord, error) {
	const op = "finish registration"
	start := time.Now()

	record, err := s.finishRegistration(ctx, requestID, identity, rawResponse, label)
	if err != nil {
		s.logger.Info("registration rejected",
			"identity", identity,
			"request_id", requestID,
			"reason", ValidationErrorKind(err))
		s.observe(metrics.CeremonyRegistration, start, err)
		return nil, err
	}

	s.logger.Info("credential registered",
		"identity", identity,
		"credential_id", record.ID.String())
	s.observe(metrics.CeremonyRegistration, start, nil)
	return record, nil
}

func (s *Service) finishRegistration(ctx context.Context, requestID, identity string, rawResponse []byte, label string) (*CredentialRecord, error) {
	const op = "finish registration"

	challenge, err := s.takeChallenge(ctx, requestID)
	if err != nil {
		return nil, wrapError(op, err)
	}

	ccr, err := ParseCredentialCreationResponse(rawResponse)
	if err != nil {
		return nil, wrapError(op, err)
	}

	record, err := s.validator.VerifyRegistration(ccr, challenge)
	if err != nil {
		return nil, err
	}

	record.OwnerIdentity = identity
	record.Extra.Label = label
	if err := s.credentials.Save(ctx, record); err != nil {
		return nil, err
	}
	return record, nil
}

// BeginAuthentication starts an authentication ceremony. With a non-empty
// identity the allow list carries that account's credentials; with an empty
// identity the options request a discoverable credential.
func (s *Service) BeginAuthentication(ctx context.Context, identity string) (*AuthenticationOptions, string, error) {
	const op = "begin authentication"
	start := time.Now()

	var allowed []*CredentialRecord
	if identity != "" {
		records, err := s.credentials.FindAllForIdentity(ctx, identity)
		if err != nil {
			s.observe(metrics.CeremonyAuthentication, start, err)
			return nil, "", wrapError(op, err)
		}
		if len(records) == 0 {
			s.observe(metrics.CeremonyAuthentication, start, ErrNoCredentials)
			return nil, "", wrapError(op, ErrNoCredentials)
		}
		allowed = records
	}

	options, err := BuildAuthenticationOptions(s.config, allowed)
	if err != nil {
		s.observe(metrics.CeremonyAuthentication, start, err)
		return nil, "", wrapError(op, err)
	}

	requestID := uuid.NewString()
	if err := s.challenges.Put(ctx, requestID, options.Challenge, s.config.ChallengeTTL); err != nil {
		s.observe(metrics.CeremonyAuthentication, start, err)
		return nil, "", wrapError(op, err)
	}

	s.logger.Debug("authentication options issued",
		"request_id", requestID,
		"allow_count", len(options.AllowCredentials))
	s.observe(metrics.CeremonyAuthentication, start, nil)
	return options, requestID, nil
}

// FinishAuthentication completes an authentication ceremony. rawResponse is
// the PublicKeyCredential JSON from the client. On success the credential's
// counter and flags are committed and a token issued if a TokenIssuer is
// configured.
func (s *Service) FinishAuthentication(ctx context.Context, requestID string, rawResponse []byte) (*AuthenticationResult, error) {
	start := time.Now()

	result, err := s.finishAuthentication(ctx, requestID, rawResponse)
	if err != nil {
		s.logger.Info("authentication rejected",
			"request_id", requestID,
			"reason", ValidationErrorKind(err))
		s.observe(metrics.CeremonyAuthentication, start, err)
		return nil, err
	}

	s.logger.Info("authentication succeeded",
		"identity", result.Account.Identity,
		"credential_id", result.Credential.ID.String())
	s.observe(metrics.CeremonyAuthentication, start, nil)
	return result, nil
}

func (s *Service) finishAuthentication(ctx context.Context, requestID string, rawResponse []byte) (*AuthenticationResult, error) {
	const op = "finish authentication"

	challenge, err := s.takeChallenge(ctx, requestID)
	if err != nil {
		return nil, wrapError(op, err)
	}

	car, err := ParseCredentialAssertionResponse(rawResponse)
	if err != nil {
		return nil, wrapError(op, err)
	}

	record, err := s.credentials.FindByCredentialID(ctx, car.RawID)
	if err != nil {
		return nil, err
	}

	assertion, err := s.validator.VerifyAssertion(car, challenge, record)
	if err != nil {
		return nil, err
	}

	updated, err := s.credentials.ApplyAssertion(ctx, assertion)
	if err != nil {
		return nil, err
	}

	account, err := s.accounts.LookupAccount(ctx, updated.OwnerIdentity)
	if err != nil {
		return nil, wrapError(op, err)
	}

	var token string
	if s.tokens != nil {
		token, err = s.tokens.IssueToken(ctx, account, updated)
		if err != nil {
			return nil, wrapError(op, fmt.Errorf("issue token: %w", err))
		}
	}

	return &AuthenticationResult{
		Account:    account,
		Credential: updated,
		Token:      token,
	}, nil
}

// takeChallenge consumes the parked challenge. A missing or expired entry
// surfaces as a challenge mismatch so callers cannot distinguish a replay
// from an expiry.
func (s *Service) takeChallenge(ctx context.Context, requestID string) ([]byte, error) {
	challenge, err := s.challenges.Take(ctx, requestID)
	if err != nil {
		if IsValidationError(err) {
			return nil, fmt.Errorf("%w: %v", ErrChallengeMismatch, err)
		}
		return nil, err
	}
	return challenge, nil
}

func (s *Service) observe(ceremony string, start time.Time, err error) {
	duration := time.Since(start).Seconds()
	if err != nil {
		metrics.RecordCeremony(ceremony, metrics.StatusError, duration)
		if IsValidationError(err) {
			metrics.RecordValidationFailure(ceremony, ValidationErrorKind(err))
		}
		return
	}
	metrics.RecordCeremony(ceremony, metrics.StatusSuccess, duration)
}
