package testfixtures

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/example/resource-scheduler/internal/application"
	"github.com/example/resource-scheduler/internal/metrics"
	"github.com/example/resource-scheduler/internal/notify"
	"github.com/example/resource-scheduler/internal/persistence"
)

// Password is the password of every seeded user.
const Password = "correct-horse-battery"

// FastArgon2idParams keep hashing cheap in tests.
var FastArgon2idParams = application.Argon2idParams{
	Memory:      8 * 1024,
	Iterations:  1,
	Parallelism: 1,
	SaltLength:  16,
	KeyLength:   32,
}

// ServiceFactory assists tests with constructing application services using
// deterministic identifiers and clocks.
type ServiceFactory struct {
	Clock *Clock
	UUIDs *UUIDGenerator
}

// ServiceFactoryOption configures a ServiceFactory instance.
type ServiceFactoryOption func(*ServiceFactory)

// NewServiceFactory constructs a ServiceFactory with defaults.
func NewServiceFactory(opts ...ServiceFactoryOption) *ServiceFactory {
	factory := &ServiceFactory{
		Clock: NewClock(time.Time{}),
		UUIDs: NewUUIDGenerator(1),
	}
	for _, opt := range opts {
		opt(factory)
	}
	if factory.Clock == nil {
		factory.Clock = NewClock(time.Time{})
	}
	if factory.UUIDs == nil {
		factory.UUIDs = NewUUIDGenerator(1)
	}
	return factory
}

// WithClock overrides the clock used by the factory.
func WithClock(clock *Clock) ServiceFactoryOption {
	return func(factory *ServiceFactory) {
		factory.Clock = clock
	}
}

// WithUUIDGenerator overrides the identifier generator used by the factory.
func WithUUIDGenerator(generator *UUIDGenerator) ServiceFactoryOption {
	return func(factory *ServiceFactory) {
		factory.UUIDs = generator
	}
}

// Stack bundles the application services over one world together with the
// in-memory collaborators they report to.
type Stack struct {
	World        *World
	Service      *application.Service
	Hasher       *application.PasswordHasher
	Users        *application.UserService
	Allocatables *application.AllocatableService
	Reservations *application.ReservationService

	Repository *persistence.MemoryRepository
	Events     *notify.Recorder
	Metrics    *metrics.Recorder
}

// NewStack wires the services over w. Every seeded user gets Password.
func (f *ServiceFactory) NewStack(tb testing.TB, w *World) *Stack {
	tb.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	hasher := application.NewPasswordHasher(FastArgon2idParams)
	for _, u := range w.users() {
		hash, err := hasher.Hash(Password)
		if err != nil {
			tb.Fatalf("hash seed password: %v", err)
		}
		w.Cache.PutPassword(u, hash)
	}

	s := &Stack{
		World:      w,
		Hasher:     hasher,
		Repository: persistence.NewMemoryRepository(),
		Events:     &notify.Recorder{},
		Metrics:    metrics.New(),
	}
	s.Service = application.NewService(w.Cache, application.Options{
		Repository: s.Repository,
		Publisher:  s.Events,
		Metrics:    s.Metrics,
		Logger:     logger,
		Now:        f.Clock.NowFunc(),
		NewUUID:    f.UUIDs.NextFunc(),
	})
	s.Users = application.NewUserService(s.Service, hasher, logger)
	s.Allocatables = application.NewAllocatableService(s.Service, logger)
	s.Reservations = application.NewReservationService(s.Service, logger)
	return s
}
