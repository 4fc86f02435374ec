package service

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	categorydomain "fleet-control-plane/internal/category/domain"
	"fleet-control-plane/internal/device/domain"
	historydomain "fleet-control-plane/internal/history/domain"
	"fleet-control-plane/internal/integrity"
	loandomain "fleet-control-plane/internal/loan/domain"
)

// RegisterInput is an agent registration request.
type RegisterInput struct {
	Category  string
	Payload   map[string]any
	IPAddress string
}

// Registration is the stored device and the normalized data it was registered with.
type Registration struct {
	Device *domain.Device
	Data   map[string]any
}

func newDesktopID() string {
	return "DESKTOP-" + strings.ToUpper(uuid.New().String())
}

// Register validates and normalizes the payload for its category, then creates
// the device and its baseline history entry in one transaction.
// Errors: *integrity.UnexpectedFieldsError, *ValidationError,
// categorydomain.ErrCategoryNotFound, loandomain.ErrLoanNotFound,
// loandomain.ErrLoanCompleted, domain.ErrDeviceExists.
func (s *Service) Register(ctx context.Context, in RegisterInput) (*Registration, error) {
	slug := strings.ToLower(strings.TrimSpace(in.Category))
	if slug == "" {
		return nil, invalid("category is required.")
	}
	payload := in.Payload
	if payload == nil {
		payload = map[string]any{}
	}

	data, dt, err := s.normalize(ctx, slug, payload)
	if err != nil {
		return nil, err
	}

	loanNumber, _ := data["loan_number"].(string)
	loanNumber = strings.TrimSpace(loanNumber)
	if loanNumber == "" {
		return nil, invalidField("loan_number", "This field is required.")
	}
	loan, err := s.loans.FindByNumber(ctx, loanNumber)
	if err != nil {
		return nil, fmt.Errorf("load loan: %w", err)
	}
	if loan == nil {
		return nil, loandomain.ErrLoanNotFound
	}
	if loan.Status == loandomain.StatusCompleted {
		return nil, loandomain.ErrLoanCompleted
	}

	var id string
	if slug == domain.CategoryMobile {
		id = firstString(data, "device_id", "android_id")
		if id == "" {
			return nil, invalidField("device_id", "device_id or android_id is required.")
		}
	} else {
		id = s.newID()
	}
	data["device_id"] = id
	data["device_type"] = string(dt)

	dev := &domain.Device{
		ID:           id,
		DeviceType:   dt,
		Category:     slug,
		LoanNumber:   loan.Number,
		Manufacturer: stringField(data, "manufacturer"),
		Model:        stringField(data, "model"),
		SerialNumber: stringField(data, "serial_number"),
		Fingerprint:  stringField(data, "device_fingerprint"),
		IPAddress:    in.IPAddress,
		RecoveryKey:  recoveryKeyField(data),
		CreatedAt:    s.now().UTC(),
	}
	// The recovery key is escrowed on the device row only, never in the baseline.
	baseline := integrity.BaselineFrom(data)
	entry := &historydomain.Entry{
		DeviceID:      id,
		Action:        historydomain.ActionCreate,
		Actor:         "agent",
		Notes:         fmt.Sprintf("Device registered for loan %s (%s).", loan.Number, slug),
		ChangedFields: sortedKeys(baseline),
		NewValues:     baseline,
		IPAddress:     in.IPAddress,
	}

	err = s.tx.WithinTx(ctx, func(r TxRepos) error {
		existing, err := r.Devices.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if existing != nil {
			return domain.ErrDeviceExists
		}
		if err := r.Devices.Create(ctx, dev); err != nil {
			return fmt.Errorf("create device: %w", err)
		}
		if err := r.Loans.AttachDevice(ctx, loan.ID, id); err != nil {
			return fmt.Errorf("attach loan: %w", err)
		}
		s.history.Stamp(entry)
		if err := r.History.Create(ctx, entry); err != nil {
			return fmt.Errorf("write registration baseline: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("device registered",
		zap.String("device_id", id),
		zap.String("category", slug),
		zap.String("device_type", string(dt)),
		zap.String("loan_number", loan.Number),
		zap.Int("baseline_fields", len(baseline)))
	return &Registration{Device: dev, Data: data}, nil
}

// normalize applies the category's field rules and resolves the device type.
func (s *Service) normalize(ctx context.Context, slug string, payload map[string]any) (map[string]any, domain.DeviceType, error) {
	switch slug {
	case domain.CategoryMobile:
		if err := integrity.CheckFields(integrity.AcceptedRawFields(slug, nil), payload); err != nil {
			return nil, "", err
		}
		data := integrity.Normalize(slug, nil, payload)
		dt, err := deviceType(data, domain.TypePhone)
		if err != nil {
			return nil, "", err
		}
		if dt.IsDesktop() {
			return nil, "", invalid("Desktop device_type not allowed on mobile endpoint.")
		}
		return data, dt, nil

	case domain.CategoryDesktop:
		if err := integrity.CheckFields(integrity.AllowedFields(slug, nil), payload); err != nil {
			return nil, "", err
		}
		data := integrity.Normalize(slug, nil, payload)
		dt, err := deviceType(data, domain.TypeDesktop)
		if err != nil {
			return nil, "", err
		}
		if dt.IsMobile() {
			return nil, "", invalid("Mobile device_type not allowed on desktop endpoint.")
		}
		return data, dt, nil
	}

	cat, err := s.categories.GetBySlug(ctx, slug)
	if err != nil {
		return nil, "", fmt.Errorf("load category: %w", err)
	}
	if cat == nil {
		return nil, "", categorydomain.ErrCategoryNotFound
	}
	names := cat.FieldNames()
	if err := integrity.CheckFields(integrity.AllowedFields(slug, names), payload); err != nil {
		return nil, "", err
	}
	data := integrity.Normalize(slug, names, payload)
	dt, err := deviceType(data, domain.TypeOther)
	if err != nil {
		return nil, "", err
	}
	extracted, errs := cat.Extract(payload)
	if len(errs) > 0 {
		return nil, "", &ValidationError{Message: "Invalid category data.", Errors: errs}
	}
	for k, v := range extracted {
		data[k] = v
	}
	return data, dt, nil
}

func deviceType(data map[string]any, def domain.DeviceType) (domain.DeviceType, error) {
	raw, ok := data["device_type"]
	if !ok {
		return def, nil
	}
	s, _ := raw.(string)
	dt, ok := domain.ParseDeviceType(s)
	if !ok {
		return "", invalidField("device_type", fmt.Sprintf("%q is not a valid choice.", fmt.Sprint(raw)))
	}
	return dt, nil
}

func stringField(data map[string]any, key string) string {
	s, _ := data[key].(string)
	return strings.TrimSpace(s)
}

func recoveryKeyField(data map[string]any) json.RawMessage {
	v, ok := data["disk_recovery_key"]
	if !ok || v == nil {
		return nil
	}
	if s, isStr := v.(string); isStr && strings.TrimSpace(s) == "" {
		return nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return b
}

func firstString(data map[string]any, keys ...string) string {
	for _, k := range keys {
		if s := stringField(data, k); s != "" {
			return s
		}
	}
	return ""
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
