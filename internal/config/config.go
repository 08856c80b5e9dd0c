// Package config provides the enumerated protocol configuration plus
// persistent storage of the resume-from-counter hook (session id and
// last counter), so a warm wake can skip a fresh handshake.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// HandshakeKind enumerates the key-agreement mode (security.handshake).
type HandshakeKind string

const (
	HandshakeNoiseX25519 HandshakeKind = "noise_x25519"
	HandshakePreShared   HandshakeKind = "pre_shared"
)

// CipherSuite enumerates the AEAD suite (security.cipher_suite). Only one
// suite is defined today; the type exists so a future suite has somewhere
// to go without changing every call site.
type CipherSuite string

const (
	CipherSuiteXChaCha20Poly1305 CipherSuite = "xchacha20poly1305"
)

// Wake holds the idle/listen/reconnect timing knobs.
type Wake struct {
	IdleSleepMs        uint64 `json:"idle_sleep_ms"`
	ListenWindowMs     uint64 `json:"listen_window_ms"`
	ReconnectTimeoutMs uint64 `json:"reconnect_timeout_ms"`
}

// Security holds the handshake/cipher/replay knobs.
type Security struct {
	Handshake        HandshakeKind `json:"handshake"`
	ForwardSecure    bool          `json:"forward_secure"`
	ReplayProtection bool          `json:"replay_protection"`
	CipherSuite      CipherSuite   `json:"cipher_suite"`
	MacLen           int           `json:"mac_len"`
}

// Latency holds the target/max latency budget.
type Latency struct {
	TargetMs uint64 `json:"target_ms"`
	MaxMs    uint64 `json:"max_ms"`
}

// Config is the full enumerated protocol configuration.
type Config struct {
	Wake            Wake     `json:"wake"`
	Security        Security `json:"security"`
	Latency         Latency  `json:"latency"`
	MaxPayloadBytes uint16   `json:"max_payload_bytes"`
}

// Demo returns the default "demo" configuration: idle 200ms, listen
// window 8ms, reconnect 2ms, Noise X25519, forward-secure, replay on,
// MAC 16B, target 6ms, max 10ms, 32-byte payload cap.
func Demo() Config {
	return Config{
		Wake: Wake{
			IdleSleepMs:        200,
			ListenWindowMs:     8,
			ReconnectTimeoutMs: 2,
		},
		Security: Security{
			Handshake:        HandshakeNoiseX25519,
			ForwardSecure:    true,
			ReplayProtection: true,
			CipherSuite:      CipherSuiteXChaCha20Poly1305,
			MacLen:           16,
		},
		Latency: Latency{
			TargetMs: 6,
			MaxMs:    10,
		},
		MaxPayloadBytes: 32,
	}
}

// IdleSleep, ListenWindow, ReconnectTimeout, Target, and Max return the
// Wake/Latency fields as time.Duration for convenient use by callers that
// drive a clock.
func (c Config) IdleSleep() time.Duration        { return time.Duration(c.Wake.IdleSleepMs) * time.Millisecond }
func (c Config) ListenWindow() time.Duration     { return time.Duration(c.Wake.ListenWindowMs) * time.Millisecond }
func (c Config) ReconnectTimeout() time.Duration { return time.Duration(c.Wake.ReconnectTimeoutMs) * time.Millisecond }
func (c Config) TargetLatency() time.Duration    { return time.Duration(c.Latency.TargetMs) * time.Millisecond }
func (c Config) MaxLatency() time.Duration       { return time.Duration(c.Latency.MaxMs) * time.Millisecond }

// ResumeState is the persisted resume-from-counter hook: enough state to
// skip a fresh handshake on reconnect. The core protocol only exposes the
// hooks (ResumeFrom, Peek); persistence itself is a host concern.
type ResumeState struct {
	SessionID   uint32 `json:"session_id,omitempty"`
	LastCounter uint32 `json:"last_counter,omitempty"`
}

// DefaultStateDir returns ~/.kblinksim (or %USERPROFILE%\.kblinksim).
func DefaultStateDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user home directory: %w", err)
	}
	return filepath.Join(home, ".kblinksim"), nil
}

// DefaultStatePath returns the default resume-state file path.
func DefaultStatePath() (string, error) {
	dir, err := DefaultStateDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "resume.json"), nil
}

// LoadResumeState reads the resume state from the default path. Returns
// an empty ResumeState if the file doesn't exist (cold wake, no prior
// session to resume).
func LoadResumeState() (*ResumeState, error) {
	path, err := DefaultStatePath()
	if err != nil {
		return nil, err
	}
	return LoadResumeStateFrom(path)
}

// LoadResumeStateFrom reads the resume state from path.
func LoadResumeStateFrom(path string) (*ResumeState, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &ResumeState{}, nil
		}
		return nil, fmt.Errorf("failed to read resume state: %w", err)
	}
	var rs ResumeState
	if err := json.Unmarshal(data, &rs); err != nil {
		return nil, fmt.Errorf("failed to parse resume state: %w", err)
	}
	return &rs, nil
}

// Save writes the resume state to the default path.
func (r *ResumeState) Save() error {
	path, err := DefaultStatePath()
	if err != nil {
		return err
	}
	return r.SaveTo(path)
}

// SaveTo writes the resume state to path, creating its directory if
// necessary.
func (r *ResumeState) SaveTo(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal resume state: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write resume state: %w", err)
	}
	return nil
}
