// Package codec defines the stored byte layout of the registry, election and
// certificate accounts. Each body starts with an 8 byte discriminator naming
// the record type, followed by protobuf wire-format fields. The registry layout
// is read by other programs, so its field numbers are fixed.
package codec

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"time"

	"accredit/pkg/types"

	"google.golang.org/protobuf/encoding/protowire"
)

var (
	ErrDiscriminator = errors.New("account discriminator mismatch")
	ErrMalformed     = errors.New("malformed account data")
)

const discriminatorLen = 8

type Kind string

const (
	KindRegistry    Kind = "Registry"
	KindElection    Kind = "Election"
	KindCertificate Kind = "Certificate"
)

var discriminators = map[Kind][discriminatorLen]byte{}

func init() {
	for _, k := range []Kind{KindRegistry, KindElection, KindCertificate} {
		sum := sha256.Sum256([]byte("account:" + string(k)))
		var d [discriminatorLen]byte
		copy(d[:], sum[:discriminatorLen])
		discriminators[k] = d
	}
}

// KindOf reports which record type data holds
func KindOf(data []byte) (Kind, bool) {
	if len(data) < discriminatorLen {
		return "", false
	}
	for k, d := range discriminators {
		if string(data[:discriminatorLen]) == string(d[:]) {
			return k, true
		}
	}
	return "", false
}

func header(k Kind) []byte {
	d := discriminators[k]
	return append(make([]byte, 0, 256), d[:]...)
}

func body(k Kind, data []byte) ([]byte, error) {
	got, ok := KindOf(data)
	if !ok || got != k {
		return nil, fmt.Errorf("%w: expected %s", ErrDiscriminator, k)
	}
	return data[discriminatorLen:], nil
}

// Registry fields
const (
	registryMembers   protowire.Number = 1
	registryAuthority protowire.Number = 2
	registryCapacity  protowire.Number = 3
)

func EncodeRegistry(r *types.Registry) []byte {
	b := header(KindRegistry)
	for _, m := range r.Members {
		b = appendID(b, registryMembers, m)
	}
	b = appendID(b, registryAuthority, r.Authority)
	b = protowire.AppendTag(b, registryCapacity, protowire.VarintType)
	return protowire.AppendVarint(b, uint64(r.Capacity))
}

func DecodeRegistry(data []byte) (*types.Registry, error) {
	b, err := body(KindRegistry, data)
	if err != nil {
		return nil, err
	}
	r := &types.Registry{}
	err = walk(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch {
		case num == registryMembers && typ == protowire.BytesType:
			id, n, err := consumeID(b)
			if err == nil {
				r.Members = append(r.Members, id)
			}
			return n, err
		case num == registryAuthority && typ == protowire.BytesType:
			id, n, err := consumeID(b)
			r.Authority = id
			return n, err
		case num == registryCapacity && typ == protowire.VarintType:
			v, n, err := consumeVarint(b)
			r.Capacity = uint32(v)
			return n, err
		}
		return skip(num, typ, b)
	})
	if err != nil {
		return nil, err
	}
	return r, nil
}

// Election fields
const (
	electionCandidate    protowire.Number = 1
	electionVotesFor     protowire.Number = 2
	electionVotesAgainst protowire.Number = 3
	electionEligible     protowire.Number = 4
	electionStatus       protowire.Number = 5
	electionCreatedAt    protowire.Number = 6
	electionConcludedAt  protowire.Number = 7
)

func EncodeElection(e *types.Election) []byte {
	b := header(KindElection)
	b = appendID(b, electionCandidate, e.Candidate)
	for _, v := range e.VotesFor {
		b = appendID(b, electionVotesFor, v)
	}
	for _, v := range e.VotesAgainst {
		b = appendID(b, electionVotesAgainst, v)
	}
	b = protowire.AppendTag(b, electionEligible, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(e.EligibleVoterCount))
	b = protowire.AppendTag(b, electionStatus, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(e.Status))
	b = appendTime(b, electionCreatedAt, e.CreatedAt)
	if e.ConcludedAt != nil {
		b = appendTime(b, electionConcludedAt, *e.ConcludedAt)
	}
	return b
}

func DecodeElection(data []byte) (*types.Election, error) {
	b, err := body(KindElection, data)
	if err != nil {
		return nil, err
	}
	e := &types.Election{}
	err = walk(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch {
		case num == electionCandidate && typ == protowire.BytesType:
			id, n, err := consumeID(b)
			e.Candidate = id
			return n, err
		case num == electionVotesFor && typ == protowire.BytesType:
			id, n, err := consumeID(b)
			if err == nil {
				e.VotesFor = append(e.VotesFor, id)
			}
			return n, err
		case num == electionVotesAgainst && typ == protowire.BytesType:
			id, n, err := consumeID(b)
			if err == nil {
				e.VotesAgainst = append(e.VotesAgainst, id)
			}
			return n, err
		case num == electionEligible && typ == protowire.VarintType:
			v, n, err := consumeVarint(b)
			e.EligibleVoterCount = uint32(v)
			return n, err
		case num == electionStatus && typ == protowire.VarintType:
			v, n, err := consumeVarint(b)
			if err == nil && v > uint64(types.StatusRejected) {
				return n, fmt.Errorf("%w: unknown election status %d", ErrMalformed, v)
			}
			e.Status = types.ElectionStatus(v)
			return n, err
		case num == electionCreatedAt && typ == protowire.VarintType:
			t, n, err := consumeTime(b)
			e.CreatedAt = t
			return n, err
		case num == electionConcludedAt && typ == protowire.VarintType:
			t, n, err := consumeTime(b)
			e.ConcludedAt = &t
			return n, err
		}
		return skip(num, typ, b)
	})
	if err != nil {
		return nil, err
	}
	return e, nil
}

// Certificate fields
const (
	certHash         protowire.Number = 1
	certIssuer       protowire.Number = 2
	certValid        protowire.Number = 3
	certIssuedAt     protowire.Number = 4
	certCorrectedAt  protowire.Number = 5
	certSupersededBy protowire.Number = 6
)

func EncodeCertificate(c *types.Certificate) []byte {
	b := header(KindCertificate)
	b = protowire.AppendTag(b, certHash, protowire.BytesType)
	b = protowire.AppendBytes(b, c.ContentHash[:])
	b = appendID(b, certIssuer, c.Issuer)
	b = protowire.AppendTag(b, certValid, protowire.VarintType)
	b = protowire.AppendVarint(b, protowire.EncodeBool(c.IsValid))
	b = appendTime(b, certIssuedAt, c.IssuedAt)
	if c.CorrectedAt != nil {
		b = appendTime(b, certCorrectedAt, *c.CorrectedAt)
	}
	if c.SupersededBy != nil {
		b = protowire.AppendTag(b, certSupersededBy, protowire.BytesType)
		b = protowire.AppendBytes(b, c.SupersededBy[:])
	}
	return b
}

func DecodeCertificate(data []byte) (*types.Certificate, error) {
	b, err := body(KindCertificate, data)
	if err != nil {
		return nil, err
	}
	c := &types.Certificate{}
	err = walk(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch {
		case num == certHash && typ == protowire.BytesType:
			id, n, err := consumeID(b)
			c.ContentHash = types.Hash(id)
			return n, err
		case num == certIssuer && typ == protowire.BytesType:
			id, n, err := consumeID(b)
			c.Issuer = id
			return n, err
		case num == certValid && typ == protowire.VarintType:
			v, n, err := consumeVarint(b)
			c.IsValid = protowire.DecodeBool(v)
			return n, err
		case num == certIssuedAt && typ == protowire.VarintType:
			t, n, err := consumeTime(b)
			c.IssuedAt = t
			return n, err
		case num == certCorrectedAt && typ == protowire.VarintType:
			t, n, err := consumeTime(b)
			c.CorrectedAt = &t
			return n, err
		case num == certSupersededBy && typ == protowire.BytesType:
			id, n, err := consumeID(b)
			h := types.Hash(id)
			c.SupersededBy = &h
			return n, err
		}
		return skip(num, typ, b)
	})
	if err != nil {
		return nil, err
	}
	return c, nil
}

// walk iterates the fields in b. fn must return how many bytes of the field
// value it consumed.
func walk(b []byte, fn func(protowire.Number, protowire.Type, []byte) (int, error)) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return fmt.Errorf("%w: %v", ErrMalformed, protowire.ParseError(n))
		}
		b = b[n:]
		m, err := fn(num, typ, b)
		if err != nil {
			return err
		}
		b = b[m:]
	}
	return nil
}

func skip(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
	n := protowire.ConsumeFieldValue(num, typ, b)
	if n < 0 {
		return 0, fmt.Errorf("%w: %v", ErrMalformed, protowire.ParseError(n))
	}
	return n, nil
}

func appendID(b []byte, num protowire.Number, id types.Identity) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, id[:])
}

func consumeID(b []byte) (types.Identity, int, error) {
	var id types.Identity
	v, n := protowire.ConsumeBytes(b)
	if n < 0 {
		return id, 0, fmt.Errorf("%w: %v", ErrMalformed, protowire.ParseError(n))
	}
	if len(v) != len(id) {
		return id, 0, fmt.Errorf("%w: expected 32 byte key, got %d", ErrMalformed, len(v))
	}
	copy(id[:], v)
	return id, n, nil
}

func consumeVarint(b []byte) (uint64, int, error) {
	v, n := protowire.ConsumeVarint(b)
	if n < 0 {
		return 0, 0, fmt.Errorf("%w: %v", ErrMalformed, protowire.ParseError(n))
	}
	return v, n, nil
}

// Times are stored as zigzag-encoded unix seconds.
func appendTime(b []byte, num protowire.Number, t time.Time) []byte {
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, protowire.EncodeZigZag(t.Unix()))
}

func consumeTime(b []byte) (time.Time, int, error) {
	v, n, err := consumeVarint(b)
	if err != nil {
		return time.Time{}, 0, err
	}
	return time.Unix(protowire.DecodeZigZag(v), 0).UTC(), n, nil
}
