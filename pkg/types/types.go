package types

import (
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"
)

// Identity is an institute's ed25519 public key. Only equality is meaningful.
type Identity [32]byte

// ProgramID identifies the program that owns and administers a set of accounts.
type ProgramID = Identity

// Hash is a SHA-256 content digest.
type Hash [32]byte

// Address is a deterministic storage location derived from a program and seeds.
type Address [32]byte

var ZeroIdentity Identity

func IdentityFromPublicKey(pub ed25519.PublicKey) (Identity, error) {
	var id Identity
	if len(pub) != ed25519.PublicKeySize {
		return id, fmt.Errorf("invalid public key size: %d", len(pub))
	}
	copy(id[:], pub)
	return id, nil
}

// ParseIdentity parses the 64-character hex form of an identity
func ParseIdentity(s string) (Identity, error) {
	var id Identity
	if err := decodeHex32(s, id[:]); err != nil {
		return id, fmt.Errorf("invalid identity %q: %w", s, err)
	}
	return id, nil
}

func (id Identity) String() string { return hex.EncodeToString(id[:]) }

// Short returns an abbreviated form for logs and tables
func (id Identity) Short() string {
	s := id.String()
	return s[:8] + "…" + s[len(s)-4:]
}

func (id Identity) IsZero() bool { return id == ZeroIdentity }

func (id Identity) PublicKey() ed25519.PublicKey {
	return ed25519.PublicKey(id[:])
}

// NamedProgram derives a stable program id from a human readable name.
func NamedProgram(name string) ProgramID {
	return ProgramID(sha256.Sum256([]byte("accredit/program/" + name)))
}

// ParseHash parses the 64-character hex form of a content hash
func ParseHash(s string) (Hash, error) {
	var h Hash
	if err := decodeHex32(s, h[:]); err != nil {
		return h, fmt.Errorf("invalid hash %q: %w", s, err)
	}
	return h, nil
}

// HashContent returns the SHA-256 digest of a document
func HashContent(data []byte) Hash {
	return Hash(sha256.Sum256(data))
}

func (h Hash) String() string { return hex.EncodeToString(h[:]) }

func ParseAddress(s string) (Address, error) {
	var a Address
	if err := decodeHex32(s, a[:]); err != nil {
		return a, fmt.Errorf("invalid address %q: %w", s, err)
	}
	return a, nil
}

func (a Address) String() string { return hex.EncodeToString(a[:]) }

func decodeHex32(s string, dst []byte) error {
	s = strings.TrimPrefix(strings.TrimSpace(s), "0x")
	b, err := hex.DecodeString(s)
	if err != nil {
		return err
	}
	if len(b) != 32 {
		return fmt.Errorf("expected 32 bytes, got %d", len(b))
	}
	copy(dst, b)
	return nil
}

type ElectionStatus uint8

const (
	StatusActive ElectionStatus = iota
	StatusApproved
	StatusRejected
)

func (s ElectionStatus) String() string {
	switch s {
	case StatusActive:
		return "active"
	case StatusApproved:
		return "approved"
	case StatusRejected:
		return "rejected"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(s))
	}
}

func (s ElectionStatus) Terminal() bool {
	return s == StatusApproved || s == StatusRejected
}

func ParseElectionStatus(s string) (ElectionStatus, error) {
	switch strings.ToLower(s) {
	case "active":
		return StatusActive, nil
	case "approved":
		return StatusApproved, nil
	case "rejected":
		return StatusRejected, nil
	}
	return 0, fmt.Errorf("unknown election status %q", s)
}

type Registry struct {
	Members   []Identity
	Authority Identity
	Capacity  uint32
}

func (r *Registry) IsMember(id Identity) bool {
	return r.indexOf(id) >= 0
}

func (r *Registry) indexOf(id Identity) int {
	for i, m := range r.Members {
		if m == id {
			return i
		}
	}
	return -1
}

// RemoveMember drops id from the member list preserving order. It reports
// whether the identity was present.
func (r *Registry) RemoveMember(id Identity) bool {
	i := r.indexOf(id)
	if i < 0 {
		return false
	}
	r.Members = append(r.Members[:i], r.Members[i+1:]...)
	return true
}

type Election struct {
	Candidate          Identity
	VotesFor           []Identity
	VotesAgainst       []Identity
	EligibleVoterCount uint32
	Status             ElectionStatus
	CreatedAt          time.Time
	ConcludedAt        *time.Time
}

func (e *Election) HasVoted(voter Identity) bool {
	for _, v := range e.VotesFor {
		if v == voter {
			return true
		}
	}
	for _, v := range e.VotesAgainst {
		if v == voter {
			return true
		}
	}
	return false
}

func (e *Election) TotalVotes() int {
	return len(e.VotesFor) + len(e.VotesAgainst)
}

// ApprovalPercentage is the integer share of cast votes that were in favour
func (e *Election) ApprovalPercentage() uint32 {
	total := e.TotalVotes()
	if total == 0 {
		return 0
	}
	return uint32(len(e.VotesFor) * 100 / total)
}

type ElectionSummary struct {
	Address            Address        `json:"address"`
	Candidate          Identity       `json:"candidate"`
	VotesFor           uint32         `json:"votes_for"`
	VotesAgainst       uint32         `json:"votes_against"`
	EligibleVoterCount uint32         `json:"eligible_voter_count"`
	ApprovalPercentage uint32         `json:"approval_percentage"`
	Status             ElectionStatus `json:"status"`
	CreatedAt          time.Time      `json:"created_at"`
	ConcludedAt        *time.Time     `json:"concluded_at,omitempty"`
}

func (e *Election) Summary(addr Address) ElectionSummary {
	return ElectionSummary{
		Address:            addr,
		Candidate:          e.Candidate,
		VotesFor:           uint32(len(e.VotesFor)),
		VotesAgainst:       uint32(len(e.VotesAgainst)),
		EligibleVoterCount: e.EligibleVoterCount,
		ApprovalPercentage: e.ApprovalPercentage(),
		Status:             e.Status,
		CreatedAt:          e.CreatedAt,
		ConcludedAt:        e.ConcludedAt,
	}
}

type Certificate struct {
	ContentHash  Hash
	Issuer       Identity
	IsValid      bool
	IssuedAt     time.Time
	CorrectedAt  *time.Time
	SupersededBy *Hash
}

type CertificateSummary struct {
	Address      Address    `json:"address"`
	ContentHash  Hash       `json:"content_hash"`
	Issuer       Identity   `json:"issuer"`
	IsValid      bool       `json:"is_valid"`
	IssuedAt     time.Time  `json:"issued_at"`
	CorrectedAt  *time.Time `json:"corrected_at,omitempty"`
	SupersededBy *Hash      `json:"superseded_by,omitempty"`
}

func (c *Certificate) Summary(addr Address) CertificateSummary {
	return CertificateSummary{
		Address:      addr,
		ContentHash:  c.ContentHash,
		Issuer:       c.Issuer,
		IsValid:      c.IsValid,
		IssuedAt:     c.IssuedAt,
		CorrectedAt:  c.CorrectedAt,
		SupersededBy: c.SupersededBy,
	}
}

func (id Identity) MarshalText() ([]byte, error) { return []byte(id.String()), nil }

func (id *Identity) UnmarshalText(b []byte) error {
	parsed, err := ParseIdentity(string(b))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

func (h Hash) MarshalText() ([]byte, error) { return []byte(h.String()), nil }

func (h *Hash) UnmarshalText(b []byte) error {
	parsed, err := ParseHash(string(b))
	if err != nil {
		return err
	}
	*h = parsed
	return nil
}

func (a Address) MarshalText() ([]byte, error) { return []byte(a.String()), nil }

func (a *Address) UnmarshalText(b []byte) error {
	parsed, err := ParseAddress(string(b))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

func (s ElectionStatus) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *ElectionStatus) UnmarshalText(b []byte) error {
	parsed, err := ParseElectionStatus(string(b))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}
