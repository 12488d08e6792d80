package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"accounts-ledger/pkg/account"

	"github.com/redis/rueidis"
	"github.com/shopspring/decimal"
)

const backend = "redis"

// Store keeps each account in a hash under KeyPrefix + "account:" + number.
// Inserts and balance writes run as Lua scripts so the existence and version
// checks are atomic with the write.
type Store struct {
	client rueidis.Client
	name   string
	config Config
}

// Config configures the Redis account store.
type Config struct {
	Name string
	// Addr is the Redis server address for single node mode.
	Addr string
	// ClusterAddrs enables cluster mode when set.
	ClusterAddrs []string
	Username     string
	Password     string
	// DB is the Redis database number. Cluster mode only supports DB 0.
	DB           int
	KeyPrefix    string
	DialTimeout  time.Duration
	WriteTimeout time.Duration
}

// DefaultConfig returns a single-node configuration on localhost.
func DefaultConfig() Config {
	return Config{
		Name:         "Redis",
		Addr:         "localhost:6379",
		KeyPrefix:    "ledger:",
		DialTimeout:  5 * time.Second,
		WriteTimeout: 3 * time.Second,
	}
}

// insertScript returns 1 when the hash was created and 0 when the key existed.
var insertScript = rueidis.NewLuaScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
	return 0
end
redis.call('HSET', KEYS[1],
	'balance', ARGV[1], 'owners', ARGV[2], 'type', ARGV[3],
	'version', 1, 'created_at', ARGV[4], 'updated_at', ARGV[4])
return 1
`)

// setBalanceScript returns the new version, -1 for a missing account and -2
// for a stale expected version.
var setBalanceScript = rueidis.NewLuaScript(`
local v = redis.call('HGET', KEYS[1], 'version')
if not v then
	return -1
end
if v ~= ARGV[2] then
	return -2
end
local next = tonumber(v) + 1
redis.call('HSET', KEYS[1], 'balance', ARGV[1], 'version', next, 'updated_at', ARGV[3])
return next
`)

// NewClient builds a rueidis client from config without client-side caching.
func NewClient(config Config) (rueidis.Client, error) {
	var initAddress []string
	if len(config.ClusterAddrs) > 0 {
		initAddress = config.ClusterAddrs
	} else if config.Addr != "" {
		initAddress = []string{config.Addr}
	} else {
		return nil, fmt.Errorf("redis: no addresses configured (set Addr or ClusterAddrs)")
	}

	client, err := rueidis.NewClient(rueidis.ClientOption{
		InitAddress:      initAddress,
		Username:         config.Username,
		Password:         config.Password,
		SelectDB:         config.DB,
		ConnWriteTimeout: config.WriteTimeout,
		DisableCache:     true,
	})
	if err != nil {
		return nil, fmt.Errorf("redis: failed to create client: %w", err)
	}
	return client, nil
}

// NewStore connects to Redis and verifies the connection with a PING.
func NewStore(config Config) (*Store, error) {
	if config.Name == "" {
		config.Name = "Redis"
	}

	client, err := NewClient(config)
	if err != nil {
		return nil, err
	}

	return NewStoreWithClient(client, config)
}

// NewStoreWithClient wraps an existing client.
func NewStoreWithClient(client rueidis.Client, config Config) (*Store, error) {
	if config.DialTimeout <= 0 {
		config.DialTimeout = 5 * time.Second
	}

	ctx, cancel := context.WithTimeout(context.Background(), config.DialTimeout)
	defer cancel()

	if err := client.Do(ctx, client.B().Ping().Build()).Error(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis: failed to ping server: %w", err)
	}

	return &Store{
		client: client,
		name:   config.Name,
		config: config,
	}, nil
}

func (s *Store) key(number int64) string {
	return s.config.KeyPrefix + "account:" + strconv.FormatInt(number, 10)
}

// masterKey holds the number of the one master account in this keyspace.
func (s *Store) masterKey() string {
	return s.config.KeyPrefix + "master"
}

// Get reads the account hash.
func (s *Store) Get(ctx context.Context, number int64) (*account.Account, error) {
	resp := s.client.Do(ctx, s.client.B().Hgetall().Key(s.key(number)).Build())
	fields, err := resp.AsStrMap()
	if err != nil {
		return nil, classify(ctx, "get", err)
	}
	if len(fields) == 0 {
		return nil, fmt.Errorf("account #%d: %w", number, account.ErrNotFound)
	}

	return decode(number, fields)
}

// Insert creates the account hash if the key is free.
func (s *Store) Insert(ctx context.Context, acc *account.Account) (*account.Account, error) {
	if err := account.ValidateNew(acc); err != nil {
		return nil, err
	}
	return s.insert(ctx, acc)
}

func (s *Store) insert(ctx context.Context, acc *account.Account) (*account.Account, error) {
	owners := acc.OwnerIDs
	if owners == nil {
		owners = []string{}
	}
	ownersJSON, err := json.Marshal(owners)
	if err != nil {
		return nil, fmt.Errorf("redis insert: failed to marshal owners: %w", err)
	}

	now := time.Now().UTC()
	created, err := insertScript.Exec(ctx, s.client, []string{s.key(acc.AccountNumber)}, []string{
		acc.Balance.String(),
		string(ownersJSON),
		string(acc.Type),
		strconv.FormatInt(now.UnixNano(), 10),
	}).AsInt64()
	if err != nil {
		return nil, classify(ctx, "insert", err)
	}
	if created == 0 {
		return nil, fmt.Errorf("account #%d: %w", acc.AccountNumber, account.ErrConflict)
	}

	stored := acc.Clone()
	stored.Version = 1
	stored.CreatedAt = now
	stored.UpdatedAt = now
	return stored, nil
}

// SetBalance runs the compare-and-swap script.
func (s *Store) SetBalance(ctx context.Context, number int64, balance decimal.Decimal, expectedVersion int64) (int64, error) {
	result, err := setBalanceScript.Exec(ctx, s.client, []string{s.key(number)}, []string{
		balance.String(),
		strconv.FormatInt(expectedVersion, 10),
		strconv.FormatInt(time.Now().UTC().UnixNano(), 10),
	}).AsInt64()
	if err != nil {
		return 0, classify(ctx, "set balance", err)
	}

	switch result {
	case -1:
		return 0, fmt.Errorf("account #%d: %w", number, account.ErrNotFound)
	case -2:
		return 0, fmt.Errorf("account #%d: expected version %d: %w", number, expectedVersion, account.ErrVersionConflict)
	}
	return result, nil
}

// EnsureMaster creates the master hash if missing. The master number is
// claimed with SET NX first, so a store bootstrapped with one number refuses
// to create a second master under another.
func (s *Store) EnsureMaster(ctx context.Context, number int64) (*account.Account, error) {
	want := strconv.FormatInt(number, 10)
	err := s.client.Do(ctx, s.client.B().Set().Key(s.masterKey()).Value(want).Nx().Build()).Error()
	if err != nil && !rueidis.IsRedisNil(err) {
		return nil, classify(ctx, "claim master", err)
	}
	claimed, err := s.client.Do(ctx, s.client.B().Get().Key(s.masterKey()).Build()).ToString()
	if err != nil {
		return nil, classify(ctx, "claim master", err)
	}
	if claimed != want {
		return nil, account.WrapValidation("master account #%s already exists, refusing to create #%d", claimed, number)
	}

	_, err = s.insert(ctx, &account.Account{
		AccountNumber: number,
		Balance:       decimal.Zero,
		Type:          account.TypeMaster,
	})
	if err != nil && !account.IsConflict(err) {
		return nil, err
	}

	master, err := s.Get(ctx, number)
	if err != nil {
		return nil, err
	}
	if !master.IsMaster() {
		return nil, account.WrapValidation("account #%d exists and is not a master account", number)
	}
	return master, nil
}

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.client.Do(ctx, s.client.B().Ping().Build()).Error(); err != nil {
		return account.Unavailable(backend, "ping", err)
	}
	return nil
}

// FlushDB removes every key in the selected database. Intended for tests.
func (s *Store) FlushDB(ctx context.Context) error {
	if err := s.client.Do(ctx, s.client.B().Flushdb().Build()).Error(); err != nil {
		return fmt.Errorf("redis flushdb: %w", err)
	}
	return nil
}

// Client exposes the underlying connection so other components can share it.
func (s *Store) Client() rueidis.Client {
	return s.client
}

// Name returns the backend name.
func (s *Store) Name() string {
	return s.name
}

// Close closes the client.
func (s *Store) Close() error {
	s.client.Close()
	return nil
}

func decode(number int64, fields map[string]string) (*account.Account, error) {
	a := &account.Account{AccountNumber: number, Type: account.Type(fields["type"])}

	balance, err := decimal.NewFromString(fields["balance"])
	if err != nil {
		return nil, fmt.Errorf("redis get: account #%d: failed to decode balance: %w", number, err)
	}
	a.Balance = balance

	if err := json.Unmarshal([]byte(fields["owners"]), &a.OwnerIDs); err != nil {
		return nil, fmt.Errorf("redis get: account #%d: failed to unmarshal owners: %w", number, err)
	}

	if a.Version, err = strconv.ParseInt(fields["version"], 10, 64); err != nil {
		return nil, fmt.Errorf("redis get: account #%d: failed to decode version: %w", number, err)
	}

	a.CreatedAt = parseNanos(fields["created_at"])
	a.UpdatedAt = parseNanos(fields["updated_at"])
	return a, nil
}

func parseNanos(raw string) time.Time {
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}

func classify(ctx context.Context, op string, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%s %s: %w", backend, op, account.ErrTimeout)
	}
	return account.Unavailable(backend, op, err)
}
