package license

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"authia/internal/security"
)

// Store is the persistence collaborator for license records and their API
// keys. Record mutations are last-writer-wins; no optimistic versioning.
type Store interface {
	CreateRecord(ctx context.Context, rec *Record) (int64, error)
	GetRecord(ctx context.Context, id int64) (*Record, error)
	GetRecordByDomain(ctx context.Context, domain string) (*Record, error)
	UpdateRecord(ctx context.Context, rec *Record) error
	DeleteRecord(ctx context.Context, id int64) error
	SetDeletionFlag(ctx context.Context, id int64, flagged bool) error
	SetRenewal(ctx context.Context, id int64, expiry time.Time) error
	ListRecords(ctx context.Context, search string) ([]Record, error)
	ListExpired(ctx context.Context, search string, today time.Time) ([]Record, error)
	ListDeletionQueue(ctx context.Context, search string) ([]Record, error)
	Stats(ctx context.Context, today time.Time) (*Stats, error)

	GetAPIKey(ctx context.Context, recordID int64) (string, error)
	UpsertAPIKey(ctx context.Context, recordID int64, key string) error
	DeleteAPIKey(ctx context.Context, recordID int64) error
}

// Notifier is the outbound notification port. Failures are reported to the
// caller but never retried and never roll back record state.
type Notifier interface {
	SendExpiryReminder(ctx context.Context, to, domain, clientName, expiryDate string) error
}

// Service implements the license lifecycle over a Store and a Notifier
type Service struct {
	store    Store
	notifier Notifier
	logger   *slog.Logger
	now      func() time.Time
}

// NewService creates a license service
func NewService(store Store, notifier Notifier, logger *slog.Logger) *Service {
	return &Service{
		store:    store,
		notifier: notifier,
		logger:   logger.With(slog.String("component", "license_service")),
		now:      time.Now,
	}
}

// SetClock overrides the service clock. Test hook.
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

// CreateInput carries the validated fields for a new license record
type CreateInput struct {
	Domain          string
	ClientName      string
	Email           string
	Message         string
	Type            Type
	Active          bool
	PendingDeletion bool
}

// Create registers a new domain license. The expiry date is computed from
// the license type and today's date, and an API key is auto-issued. The
// deletion-flag guard applies: a new record cannot arrive flagged while
// active and unexpired.
func (s *Service) Create(ctx context.Context, in CreateInput) (*Record, string, error) {
	expiry := ExpiryFor(in.Type, s.now())

	if in.PendingDeletion && !CanFlagForDeletion(in.Active, in.Type, expiry, s.now()) {
		return nil, "", fmt.Errorf("%w: a domain can only be flagged for deletion if it is either inactive or expired", ErrIllegalTransition)
	}

	rec := &Record{
		Domain:          in.Domain,
		ClientName:      in.ClientName,
		Email:           in.Email,
		Message:         in.Message,
		Type:            in.Type,
		ExpiryDate:      expiry,
		Active:          in.Active,
		PendingDeletion: in.PendingDeletion,
	}

	id, err := s.store.CreateRecord(ctx, rec)
	if err != nil {
		return nil, "", fmt.Errorf("create record: %w", err)
	}
	rec.ID = id

	key := security.GenerateAPIKey()
	if err := s.store.UpsertAPIKey(ctx, id, key); err != nil {
		return nil, "", fmt.Errorf("issue api key: %w", err)
	}

	s.logger.InfoContext(ctx, "license record created",
		slog.Int64("record_id", id),
		slog.String("domain", rec.Domain),
		slog.String("license_type", string(rec.Type)))

	return rec, key, nil
}

// UpdateInput carries the validated fields submitted through the edit form
type UpdateInput struct {
	ID              int64
	Domain          string
	ClientName      string
	Email           string
	Message         string
	Type            Type
	ExpiryDate      *time.Time
	Active          bool
	PendingDeletion bool
}

// Update applies a free-form edit. The deletion-flag guard re-checks the
// precondition against the submitted active/expiry values, not the stored
// ones: flagging an active, unexpired record is rejected here even though
// the expired-listing flag action would accept the same record.
func (s *Service) Update(ctx context.Context, in UpdateInput) error {
	if in.PendingDeletion && !CanFlagForDeletion(in.Active, in.Type, in.ExpiryDate, s.now()) {
		return fmt.Errorf("%w: a domain can only be flagged for deletion if it is either inactive or expired", ErrIllegalTransition)
	}

	if _, err := s.store.GetRecord(ctx, in.ID); err != nil {
		return err
	}

	rec := &Record{
		ID:              in.ID,
		Domain:          in.Domain,
		ClientName:      in.ClientName,
		Email:           in.Email,
		Message:         in.Message,
		Type:            in.Type,
		ExpiryDate:      in.ExpiryDate,
		Active:          in.Active,
		PendingDeletion: in.PendingDeletion,
	}
	if err := s.store.UpdateRecord(ctx, rec); err != nil {
		return fmt.Errorf("update record: %w", err)
	}

	s.logger.InfoContext(ctx, "license record updated", slog.Int64("record_id", in.ID))
	return nil
}

// FlagForDeletion marks a record for the deletion queue unconditionally.
// This path (reached from the expired-domains listing) does not re-check
// the inactive-or-expired guard the edit path enforces.
func (s *Service) FlagForDeletion(ctx context.Context, id int64) error {
	if _, err := s.store.GetRecord(ctx, id); err != nil {
		return err
	}
	if err := s.store.SetDeletionFlag(ctx, id, true); err != nil {
		return fmt.Errorf("flag record: %w", err)
	}
	s.logger.InfoContext(ctx, "license record flagged for deletion", slog.Int64("record_id", id))
	return nil
}

// Restore clears the deletion flag, returning the record to its listing
func (s *Service) Restore(ctx context.Context, id int64) error {
	if _, err := s.store.GetRecord(ctx, id); err != nil {
		return err
	}
	if err := s.store.SetDeletionFlag(ctx, id, false); err != nil {
		return fmt.Errorf("restore record: %w", err)
	}
	s.logger.InfoContext(ctx, "license record restored", slog.Int64("record_id", id))
	return nil
}

// PermanentDelete removes the API key and then the record. Irreversible.
func (s *Service) PermanentDelete(ctx context.Context, id int64) error {
	if _, err := s.store.GetRecord(ctx, id); err != nil {
		return err
	}
	if err := s.store.DeleteAPIKey(ctx, id); err != nil {
		return fmt.Errorf("delete api key: %w", err)
	}
	if err := s.store.DeleteRecord(ctx, id); err != nil {
		return fmt.Errorf("delete record: %w", err)
	}
	s.logger.InfoContext(ctx, "license record permanently deleted", slog.Int64("record_id", id))
	return nil
}

// Renew extends a monthly or yearly license. The new expiry is computed
// from today, not from the stale expiry date, and the record is
// reactivated. Lifetime licenses cannot be renewed.
func (s *Service) Renew(ctx context.Context, id int64) (*Record, error) {
	rec, err := s.store.GetRecord(ctx, id)
	if err != nil {
		return nil, err
	}

	expiry := ExpiryFor(rec.Type, s.now())
	if expiry == nil {
		return nil, ErrLifetimeNoRenewal
	}

	if err := s.store.SetRenewal(ctx, id, *expiry); err != nil {
		return nil, fmt.Errorf("renew record: %w", err)
	}

	rec.ExpiryDate = expiry
	rec.Active = true

	s.logger.InfoContext(ctx, "license renewed",
		slog.Int64("record_id", id),
		slog.String("new_expiry", FormatDate(expiry)))

	return rec, nil
}

// RegenerateKey replaces the record's API key with a fresh random value.
// The previous key is invalid the moment this returns.
func (s *Service) RegenerateKey(ctx context.Context, id int64) (string, error) {
	if _, err := s.store.GetRecord(ctx, id); err != nil {
		return "", err
	}

	key := security.GenerateAPIKey()
	if err := s.store.UpsertAPIKey(ctx, id, key); err != nil {
		return "", fmt.Errorf("regenerate api key: %w", err)
	}

	s.logger.InfoContext(ctx, "api key regenerated", slog.Int64("record_id", id))
	return key, nil
}

// SendReminder emails an expiry reminder to the record's contact address.
// It is side-effect only: record state never changes, and a delivery
// failure is reported without retry.
func (s *Service) SendReminder(ctx context.Context, id int64) error {
	rec, err := s.store.GetRecord(ctx, id)
	if err != nil {
		return err
	}
	if rec.Email == "" {
		return ErrNoContactEmail
	}

	if err := s.notifier.SendExpiryReminder(ctx, rec.Email, rec.Domain, rec.ClientName, FormatDate(rec.ExpiryDate)); err != nil {
		s.logger.ErrorContext(ctx, "reminder delivery failed",
			slog.Int64("record_id", id),
			slog.String("error", err.Error()))
		return fmt.Errorf("%w: %v", ErrNotificationFailed, err)
	}

	s.logger.InfoContext(ctx, "expiry reminder sent", slog.Int64("record_id", id))
	return nil
}

// Get returns a single record by id
func (s *Service) Get(ctx context.Context, id int64) (*Record, error) {
	return s.store.GetRecord(ctx, id)
}

// List returns all records matching the optional search term
func (s *Service) List(ctx context.Context, search string) ([]Record, error) {
	return s.store.ListRecords(ctx, search)
}

// ListExpired returns lapsed, unflagged records matching the search term
func (s *Service) ListExpired(ctx context.Context, search string) ([]Record, error) {
	return s.store.ListExpired(ctx, search, s.now())
}

// ListDeletionQueue returns records flagged for deletion
func (s *Service) ListDeletionQueue(ctx context.Context, search string) ([]Record, error) {
	return s.store.ListDeletionQueue(ctx, search)
}

// DashboardStats summarizes the license table
func (s *Service) DashboardStats(ctx context.Context) (*Stats, error) {
	return s.store.Stats(ctx, s.now())
}

// ValidationResult is the public validation endpoint's success payload
type ValidationResult struct {
	Domain     string
	Active     bool
	Message    string
	Deletion   bool
	Type       Type
	ExpiryDate *time.Time
}

// Validate answers a client application's license query. It never mutates
// state. A missing domain yields ErrDomainNotFound; a wrong or absent key
// yields ErrInvalidAPIKey; the two are indistinguishable in shape so that
// neither lookup works as an enumeration oracle.
func (s *Service) Validate(ctx context.Context, domain, apiKey string) (*ValidationResult, error) {
	rec, err := s.store.GetRecordByDomain(ctx, domain)
	if err != nil {
		return nil, err
	}

	storedKey, err := s.store.GetAPIKey(ctx, rec.ID)
	if err != nil {
		return nil, err
	}
	if !security.ConstantTimeEquals(storedKey, apiKey) {
		return nil, ErrInvalidAPIKey
	}

	result := &ValidationResult{
		Domain:     rec.Domain,
		Active:     rec.Active,
		Message:    rec.Message,
		Deletion:   rec.PendingDeletion,
		Type:       rec.Type,
		ExpiryDate: rec.ExpiryDate,
	}

	if DeriveStatus(rec, s.now()) == StatusExpiredFlaggedActive {
		result.Active = false
		result.Message = "License Expired on " + FormatDate(rec.ExpiryDate)
	}

	return result, nil
}
