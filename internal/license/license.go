// Package license implements license key generation, validation, hardware
// activation and tier-based feature gating, backed by a SQLite database.
//
// A key looks like PREFIX-XXXX-XXXX-XXXX-XXXX-CCCC: a tier prefix, four
// random hex segments and a truncated HMAC-SHA256 checksum over everything
// before it. The checksum lets clients reject malformed keys without a
// database round trip; everything else requires the issuing database.
package license

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/google/uuid"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver.
)

// Lifecycle errors. Each maps to a specific rejection the API surfaces
// verbatim to the client.
var (
	ErrInvalidKey       = errors.New("license: invalid key format")
	ErrNotFound         = errors.New("license: key not found")
	ErrDeactivated      = errors.New("license: deactivated")
	ErrExpired          = errors.New("license: expired")
	ErrActivationLimit  = errors.New("license: maximum activations reached")
	ErrNotActivated     = errors.New("license: not activated on any device")
	ErrHardwareMismatch = errors.New("license: activated on a different device")
	ErrNotUpgrade       = errors.New("license: new tier must be higher than the current one")
)

// License is one issued key and its lifecycle state.
type License struct {
	Key             string    `json:"key"`
	Tier            Tier      `json:"tier"`
	UserID          string    `json:"userId"`
	Email           string    `json:"email"`
	IssuedAt        time.Time `json:"issuedAt"`
	ExpiresAt       time.Time `json:"expiresAt"`
	HardwareID      string    `json:"hardwareId,omitempty"`
	Active          bool      `json:"active"`
	MaxActivations  int       `json:"maxActivations"`
	ActivationCount int       `json:"activationCount"`
}

// Info is the redacted license view returned to clients: the hardware id is
// truncated and the expiry is pre-digested into day counts.
type Info struct {
	Key             string    `json:"key"`
	Tier            Tier      `json:"tier"`
	Email           string    `json:"email"`
	Active          bool      `json:"active"`
	IssuedAt        time.Time `json:"issuedAt"`
	ExpiresAt       time.Time `json:"expiresAt"`
	DaysRemaining   int       `json:"daysRemaining"`
	Expired         bool      `json:"expired"`
	ActivationCount int       `json:"activationCount"`
	MaxActivations  int       `json:"maxActivations"`
	HardwareID      string    `json:"hardwareId,omitempty"`
}

// Manager issues and verifies licenses. Safe for concurrent use.
type Manager struct {
	db     *sql.DB
	secret []byte
	log    *slog.Logger
}

const schema = `
CREATE TABLE IF NOT EXISTS licenses (
	license_key      TEXT PRIMARY KEY,
	tier             TEXT NOT NULL,
	user_id          TEXT NOT NULL,
	email            TEXT NOT NULL,
	issued_at        INTEGER NOT NULL,
	expires_at       INTEGER NOT NULL,
	hardware_id      TEXT NOT NULL DEFAULT '',
	is_active        INTEGER NOT NULL DEFAULT 1,
	max_activations  INTEGER NOT NULL DEFAULT 1,
	activation_count INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_licenses_user ON licenses (user_id);
CREATE INDEX IF NOT EXISTS idx_licenses_email ON licenses (email);

CREATE TABLE IF NOT EXISTS activations (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	license_key  TEXT NOT NULL REFERENCES licenses (license_key),
	hardware_id  TEXT NOT NULL,
	activated_at INTEGER NOT NULL,
	last_seen    INTEGER NOT NULL,
	ip_address   TEXT NOT NULL DEFAULT ''
);
`

// Open opens (or creates) the license database at dbPath. The secret signs
// key checksums; changing it invalidates every previously issued key.
func Open(dbPath, secret string) (*Manager, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}
	return &Manager{
		db:     db,
		secret: []byte(secret),
		log:    slog.Default().With("component", "license"),
	}, nil
}

// Close closes the underlying database connection.
func (m *Manager) Close() error {
	return m.db.Close()
}

// ---------------------------------------------------------------------------
// Key generation and checksum
// ---------------------------------------------------------------------------

// GenerateKey returns a fresh key for the tier: prefix, four random 4-hex
// segments and the checksum segment.
func (m *Manager) GenerateKey(tier Tier) (string, error) {
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return "", fmt.Errorf("reading randomness: %w", err)
	}

	parts := []string{tier.Prefix()}
	for i := 0; i < 4; i++ {
		parts = append(parts, strings.ToUpper(hex.EncodeToString(buf[i*2:i*2+2])))
	}
	body := strings.Join(parts, "-")
	return body + "-" + m.checksum(body), nil
}

// checksum returns the first four hex characters of HMAC-SHA256(secret, body),
// uppercased.
func (m *Manager) checksum(body string) string {
	mac := hmac.New(sha256.New, m.secret)
	mac.Write([]byte(body))
	return strings.ToUpper(hex.EncodeToString(mac.Sum(nil))[:4])
}

// ValidateChecksum reports whether the key's trailing segment matches the
// HMAC of the rest. Comparison is constant-time.
func (m *Manager) ValidateChecksum(key string) bool {
	i := strings.LastIndex(key, "-")
	if i <= 0 {
		return false
	}
	body, sum := key[:i], key[i+1:]
	return hmac.Equal([]byte(sum), []byte(m.checksum(body)))
}

// HardwareID derives a stable identifier for this machine from its first
// non-loopback hardware address, hostname and architecture.
func HardwareID() string {
	var mac string
	if ifaces, err := net.Interfaces(); err == nil {
		for _, ifc := range ifaces {
			if ifc.Flags&net.FlagLoopback == 0 && len(ifc.HardwareAddr) > 0 {
				mac = ifc.HardwareAddr.String()
				break
			}
		}
	}
	host, _ := os.Hostname()
	sum := sha256.Sum256([]byte(mac + "-" + host + "-" + runtime.GOARCH))
	return strings.ToUpper(hex.EncodeToString(sum[:])[:16])
}

// ---------------------------------------------------------------------------
// Lifecycle
// ---------------------------------------------------------------------------

// CreateParams describes a license to issue. Zero values take defaults:
// 30-day duration, single activation, generated user id. The free tier is
// always issued for 365 days regardless of DurationDays.
type CreateParams struct {
	Tier           Tier
	Email          string
	DurationDays   int
	UserID         string
	MaxActivations int
}

// Create issues and stores a new license.
func (m *Manager) Create(ctx context.Context, p CreateParams) (*License, error) {
	if !p.Tier.Valid() {
		return nil, fmt.Errorf("license: unknown tier %q", p.Tier)
	}

	key, err := m.GenerateKey(p.Tier)
	if err != nil {
		return nil, err
	}

	days := p.DurationDays
	if days == 0 {
		days = 30
	}
	if p.Tier == TierFree {
		days = 365
	}
	userID := p.UserID
	if userID == "" {
		userID = uuid.NewString()
	}
	maxAct := p.MaxActivations
	if maxAct <= 0 {
		maxAct = 1
	}

	now := time.Now().UTC()
	lic := &License{
		Key:            key,
		Tier:           p.Tier,
		UserID:         userID,
		Email:          p.Email,
		IssuedAt:       now,
		ExpiresAt:      now.AddDate(0, 0, days),
		Active:         true,
		MaxActivations: maxAct,
	}
	if err := m.save(ctx, lic); err != nil {
		return nil, err
	}
	m.log.Info("license created", "tier", lic.Tier, "email", lic.Email, "expires", lic.ExpiresAt)
	return lic, nil
}

func (m *Manager) save(ctx context.Context, lic *License) error {
	_, err := m.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO licenses (
			license_key, tier, user_id, email, issued_at, expires_at,
			hardware_id, is_active, max_activations, activation_count
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		lic.Key, string(lic.Tier), lic.UserID, lic.Email,
		lic.IssuedAt.UnixMilli(), lic.ExpiresAt.UnixMilli(),
		lic.HardwareID, boolToInt(lic.Active), lic.MaxActivations, lic.ActivationCount)
	if err != nil {
		return fmt.Errorf("saving license: %w", err)
	}
	return nil
}

// Get returns the stored license for a key.
func (m *Manager) Get(ctx context.Context, key string) (*License, error) {
	row := m.db.QueryRowContext(ctx, `
		SELECT license_key, tier, user_id, email, issued_at, expires_at,
		       hardware_id, is_active, max_activations, activation_count
		FROM licenses WHERE license_key = ?`, key)

	var (
		lic                License
		tier               string
		issuedMs, expireMs int64
		active             int
	)
	err := row.Scan(&lic.Key, &tier, &lic.UserID, &lic.Email, &issuedMs, &expireMs,
		&lic.HardwareID, &active, &lic.MaxActivations, &lic.ActivationCount)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	lic.Tier = Tier(tier)
	lic.IssuedAt = time.UnixMilli(issuedMs).UTC()
	lic.ExpiresAt = time.UnixMilli(expireMs).UTC()
	lic.Active = active != 0
	return &lic, nil
}

// Activate binds a license to a hardware id. Re-activating on the same
// hardware succeeds without consuming an activation and refreshes the
// last-seen timestamp. An empty hardwareID binds to this machine.
func (m *Manager) Activate(ctx context.Context, key, hardwareID, ipAddress string) (*License, error) {
	if !m.ValidateChecksum(key) {
		return nil, ErrInvalidKey
	}
	lic, err := m.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if !lic.Active {
		return nil, ErrDeactivated
	}
	if time.Now().UTC().After(lic.ExpiresAt) {
		return nil, ErrExpired
	}

	if hardwareID == "" {
		hardwareID = HardwareID()
	}

	if lic.HardwareID == hardwareID {
		if err := m.touchActivation(ctx, key, hardwareID); err != nil {
			return nil, err
		}
		return lic, nil
	}

	if lic.ActivationCount >= lic.MaxActivations {
		return nil, ErrActivationLimit
	}

	lic.HardwareID = hardwareID
	lic.ActivationCount++
	if err := m.save(ctx, lic); err != nil {
		return nil, err
	}

	now := time.Now().UTC().UnixMilli()
	_, err = m.db.ExecContext(ctx, `
		INSERT INTO activations (license_key, hardware_id, activated_at, last_seen, ip_address)
		VALUES (?, ?, ?, ?, ?)`,
		key, hardwareID, now, now, ipAddress)
	if err != nil {
		return nil, fmt.Errorf("recording activation: %w", err)
	}

	m.log.Info("license activated", "tier", lic.Tier, "activations", lic.ActivationCount)
	return lic, nil
}

func (m *Manager) touchActivation(ctx context.Context, key, hardwareID string) error {
	_, err := m.db.ExecContext(ctx, `
		UPDATE activations SET last_seen = ?
		WHERE license_key = ? AND hardware_id = ?`,
		time.Now().UTC().UnixMilli(), key, hardwareID)
	return err
}

// Validate checks that a key is well formed, known, active and unexpired.
// With a non-empty hardwareID it additionally requires the license to be
// bound to that hardware. Returns the license tier on success.
func (m *Manager) Validate(ctx context.Context, key, hardwareID string) (Tier, error) {
	if !m.ValidateChecksum(key) {
		return "", ErrInvalidKey
	}
	lic, err := m.Get(ctx, key)
	if err != nil {
		return "", err
	}
	if !lic.Active {
		return "", ErrDeactivated
	}
	if time.Now().UTC().After(lic.ExpiresAt) {
		return "", ErrExpired
	}
	if hardwareID != "" {
		if lic.HardwareID == "" {
			return "", ErrNotActivated
		}
		if lic.HardwareID != hardwareID {
			return "", ErrHardwareMismatch
		}
	}
	return lic.Tier, nil
}

// Deactivate marks a license inactive. The key itself remains stored.
func (m *Manager) Deactivate(ctx context.Context, key string) error {
	lic, err := m.Get(ctx, key)
	if err != nil {
		return err
	}
	lic.Active = false
	if err := m.save(ctx, lic); err != nil {
		return err
	}
	m.log.Info("license deactivated", "tier", lic.Tier)
	return nil
}

// Extend moves the expiry by the given number of days.
func (m *Manager) Extend(ctx context.Context, key string, days int) error {
	lic, err := m.Get(ctx, key)
	if err != nil {
		return err
	}
	lic.ExpiresAt = lic.ExpiresAt.AddDate(0, 0, days)
	if err := m.save(ctx, lic); err != nil {
		return err
	}
	m.log.Info("license extended", "days", days, "expires", lic.ExpiresAt)
	return nil
}

// Upgrade moves a license to a strictly higher tier.
func (m *Manager) Upgrade(ctx context.Context, key string, newTier Tier) error {
	if !newTier.Valid() {
		return fmt.Errorf("license: unknown tier %q", newTier)
	}
	lic, err := m.Get(ctx, key)
	if err != nil {
		return err
	}
	if newTier.rank() <= lic.Tier.rank() {
		return ErrNotUpgrade
	}
	lic.Tier = newTier
	if err := m.save(ctx, lic); err != nil {
		return err
	}
	m.log.Info("license upgraded", "tier", newTier)
	return nil
}

// GetInfo returns the redacted client view of a license.
func (m *Manager) GetInfo(ctx context.Context, key string) (*Info, error) {
	lic, err := m.Get(ctx, key)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	days := int(lic.ExpiresAt.Sub(now).Hours() / 24)
	if days < 0 {
		days = 0
	}
	hw := lic.HardwareID
	if len(hw) > 8 {
		hw = hw[:8] + "..."
	}
	return &Info{
		Key:             lic.Key,
		Tier:            lic.Tier,
		Email:           lic.Email,
		Active:          lic.Active,
		IssuedAt:        lic.IssuedAt,
		ExpiresAt:       lic.ExpiresAt,
		DaysRemaining:   days,
		Expired:         now.After(lic.ExpiresAt),
		ActivationCount: lic.ActivationCount,
		MaxActivations:  lic.MaxActivations,
		HardwareID:      hw,
	}, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
