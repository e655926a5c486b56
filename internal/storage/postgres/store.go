package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"
	log "github.com/sirupsen/logrus"
)

// opTimeout ограничивает запросы, у контекста которых нет дедлайна.
const opTimeout = 5 * time.Second

var errNotInitialized = errors.New("postgres store is not initialized")

// Pool — параметры пула database/sql поверх драйвера pgx.
type Pool struct {
	MaxConns        int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
	PingTimeout     time.Duration
}

// DefaultPool возвращает настройки пула для одного экземпляра сервиса.
func DefaultPool() Pool {
	return Pool{
		MaxConns:        25,
		ConnMaxLifetime: 30 * time.Minute,
		ConnMaxIdleTime: 5 * time.Minute,
		PingTimeout:     5 * time.Second,
	}
}

// merge заполняет нулевые поля p значениями из def.
func (p Pool) merge(def Pool) Pool {
	if p.MaxConns <= 0 {
		p.MaxConns = def.MaxConns
	}
	if p.ConnMaxLifetime <= 0 {
		p.ConnMaxLifetime = def.ConnMaxLifetime
	}
	if p.ConnMaxIdleTime <= 0 {
		p.ConnMaxIdleTime = def.ConnMaxIdleTime
	}
	if p.PingTimeout <= 0 {
		p.PingTimeout = def.PingTimeout
	}
	return p
}

type openOptions struct {
	logger  *log.Entry
	pool    Pool
	appName string
}

// Option настраивает Open.
type Option func(*openOptions)

// WithLogger задаёт логгер хранилища.
func WithLogger(logger *log.Entry) Option {
	return func(o *openOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithPool переопределяет ненулевые параметры пула.
func WithPool(pool Pool) Option {
	return func(o *openOptions) { o.pool = pool.merge(o.pool) }
}

// WithApplicationName задаёт application_name, если его нет в DSN.
func WithApplicationName(name string) Option {
	return func(o *openOptions) { o.appName = name }
}

// Store — PostgreSQL-реализация PersistenceStore и OutboxRepository.
type Store struct {
	db          *sql.DB
	logger      *log.Entry
	now         func() time.Time
	pingTimeout time.Duration
}

// Open разбирает DSN драйвером pgx, открывает пул и проверяет доступность базы.
func Open(ctx context.Context, dsn string, opts ...Option) (*Store, error) {
	o := openOptions{
		logger:  log.New().WithField("component", "postgres-store"),
		pool:    DefaultPool(),
		appName: "rms",
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}

	connCfg, err := pgx.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if _, ok := connCfg.RuntimeParams["application_name"]; !ok && o.appName != "" {
		connCfg.RuntimeParams["application_name"] = o.appName
	}

	db := stdlib.OpenDB(*connCfg)
	db.SetMaxOpenConns(o.pool.MaxConns)
	db.SetMaxIdleConns(o.pool.MaxConns)
	db.SetConnMaxLifetime(o.pool.ConnMaxLifetime)
	db.SetConnMaxIdleTime(o.pool.ConnMaxIdleTime)

	s := &Store{db: db, logger: o.logger, now: time.Now, pingTimeout: o.pool.PingTimeout}
	if err := s.Ping(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	s.logger.WithFields(log.Fields{
		"host":      connCfg.Host,
		"database":  connCfg.Database,
		"max_conns": o.pool.MaxConns,
	}).Debug("postgres pool opened")
	return s, nil
}

// withOpTimeout добавляет opTimeout, если у ctx нет собственного дедлайна.
func withOpTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, opTimeout)
}

// DB возвращает пул для миграций и тестов.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Ping проверяет доступность подключения.
func (s *Store) Ping(ctx context.Context) error {
	if s == nil || s.db == nil {
		return errNotInitialized
	}

	timeout := s.pingTimeout
	if timeout <= 0 {
		timeout = DefaultPool().PingTimeout
	}
	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return s.db.PingContext(pingCtx)
}

// EnsureSchema применяет все up-миграции.
func (s *Store) EnsureSchema(ctx context.Context) error {
	return s.MigrateUp(ctx, 0)
}

// Close закрывает пул.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
