package services

import (
	"fmt"
	"math"
	"os"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/yungbote/neurobridge-chat/internal/data/repos"
	"github.com/yungbote/neurobridge-chat/internal/platform/ctxutil"
	"github.com/yungbote/neurobridge-chat/internal/platform/dbctx"
	"github.com/yungbote/neurobridge-chat/internal/platform/logger"
)

// UsageWindow is the trailing window the daily quota is measured over.
const UsageWindow = 24 * time.Hour

// Quotas maps each user class to its token allowance per UsageWindow.
type Quotas struct {
	Guest   int64 `yaml:"guest"`
	Regular int64 `yaml:"regular"`
	Premium int64 `yaml:"premium"`
}

func DefaultQuotas() Quotas {
	return Quotas{
		Guest:   5_000,
		Regular: 20_000,
		Premium: math.MaxInt64,
	}
}

// LoadQuotasFile overlays the non-zero entries of a YAML file onto base.
func LoadQuotasFile(path string, base Quotas) (Quotas, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return base, fmt.Errorf("read quotas file: %w", err)
	}
	var file Quotas
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return base, fmt.Errorf("parse quotas file: %w", err)
	}
	if file.Guest > 0 {
		base.Guest = file.Guest
	}
	if file.Regular > 0 {
		base.Regular = file.Regular
	}
	if file.Premium > 0 {
		base.Premium = file.Premium
	}
	return base, nil
}

func (q Quotas) For(class ctxutil.UserClass) int64 {
	switch class {
	case ctxutil.UserClassPremium:
		return q.Premium
	case ctxutil.UserClassRegular:
		return q.Regular
	default:
		return q.Guest
	}
}

type Decision struct {
	Allowed bool
	Quota   int64
	Used    int64
	// LedgerDown is set when the ledger could not be read and the fail
	// policy decided.
	LedgerDown bool
}

func (d Decision) Remaining() int64 {
	if d.Used >= d.Quota {
		return 0
	}
	return d.Quota - d.Used
}

type AdmissionService interface {
	// Admit decides whether userID may start another generation. It never
	// fails; ledger errors resolve according to the fail-closed setting.
	Admit(dbc dbctx.Context, userID uuid.UUID, class ctxutil.UserClass) Decision
	// Usage reports the current window without the fail-open fallback.
	Usage(dbc dbctx.Context, userID uuid.UUID, class ctxutil.UserClass) (Decision, error)
}

type admissionService struct {
	log        *logger.Logger
	usage      repos.UsageRepo
	quotas     Quotas
	failClosed bool
	now        func() time.Time
}

func NewAdmissionService(log *logger.Logger, usage repos.UsageRepo, quotas Quotas, failClosed bool) AdmissionService {
	return &admissionService{
		log:        log.With("service", "AdmissionService"),
		usage:      usage,
		quotas:     quotas,
		failClosed: failClosed,
		now:        time.Now,
	}
}

func (s *admissionService) Usage(dbc dbctx.Context, userID uuid.UUID, class ctxutil.UserClass) (Decision, error) {
	quota := s.quotas.For(class)
	used, err := s.usage.SumSince(dbc, userID, s.now().UTC().Add(-UsageWindow))
	if err != nil {
		return Decision{Quota: quota}, err
	}
	return Decision{Allowed: used < quota, Quota: quota, Used: used}, nil
}

func (s *admissionService) Admit(dbc dbctx.Context, userID uuid.UUID, class ctxutil.UserClass) Decision {
	d, err := s.Usage(dbc, userID, class)
	if err != nil {
		s.log.Warn("usage ledger read failed", "user_id", userID, "fail_closed", s.failClosed, "error", err)
		d.Allowed = !s.failClosed
		d.LedgerDown = true
		return d
	}
	if !d.Allowed {
		s.log.Info("admission denied", "user_id", userID, "user_class", class, "used_tokens", d.Used, "quota_tokens", d.Quota)
	}
	return d
}
