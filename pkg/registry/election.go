package registry

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"accredit/pkg/codec"
	"accredit/pkg/events"
	"accredit/pkg/ledger"
	"accredit/pkg/types"

	"go.uber.org/zap"
)

// ElectionAddress is where the election for candidate lives under program.
// There is at most one election per candidate, ever.
func ElectionAddress(program types.ProgramID, candidate types.Identity) types.Address {
	return ledger.DeriveAddress(program, []byte(ElectionSeed), candidate[:])
}

func (v *Validator) ElectionAddress(candidate types.Identity) types.Address {
	return ElectionAddress(v.program, candidate)
}

// OpenElection starts an admission vote for candidate. The number of eligible
// voters is fixed to the registry size at this moment.
func (v *Validator) OpenElection(ctx context.Context, proposer, candidate types.Identity) (addr types.Address, err error) {
	defer func(start time.Time) { v.metrics.Observe("open_election", start, err) }(time.Now())

	if candidate.IsZero() {
		return addr, fmt.Errorf("%w: candidate must be set", ErrInvalidIdentity)
	}
	addr = v.ElectionAddress(candidate)
	now := v.clock.Now()

	var eligible uint32
	err = v.store.Update(ctx, func(txn ledger.Txn) error {
		reg, err := v.loadRegistry(txn)
		if err != nil {
			return err
		}
		if reg.IsMember(candidate) {
			return fmt.Errorf("%w: %s", ErrAlreadyMember, candidate)
		}
		eligible = uint32(len(reg.Members))
		if eligible == 0 {
			return ErrNoEligibleVoters
		}
		if eligible > v.maxVoters {
			return fmt.Errorf("%w: %d eligible voters, election holds at most %d",
				ErrCapacityExceeded, eligible, v.maxVoters)
		}

		election := &types.Election{
			Candidate:          candidate,
			EligibleVoterCount: eligible,
			Status:             types.StatusActive,
			CreatedAt:          now,
		}
		return txn.Create(addr, v.program, codec.EncodeElection(election))
	})
	if errors.Is(err, ledger.ErrAccountExists) {
		return types.Address{}, fmt.Errorf("%w: %s: %w", ErrElectionExists, candidate, err)
	}
	if err != nil {
		return types.Address{}, err
	}

	v.metrics.ElectionsOpened.Inc()
	v.metrics.ElectionsActive.Inc()
	v.logger.Info("Election opened",
		zap.String("candidate", candidate.Short()),
		zap.String("proposer", proposer.Short()),
		zap.Uint32("eligible_voters", eligible))
	v.emit(ctx, events.Event{
		Type:           events.ElectionOpened,
		Timestamp:      now,
		Address:        addr,
		Subject:        candidate,
		Actor:          proposer,
		EligibleVoters: eligible,
	})
	return addr, nil
}

// CastVote records voter's ballot. When the ballot is the last one the
// election expects, the outcome is decided in the same transaction: approval
// requires every snapshotted voter in favour and admits the candidate.
func (v *Validator) CastVote(ctx context.Context, electionAddr types.Address, voter types.Identity, inFavor bool) (summary *types.ElectionSummary, err error) {
	defer func(start time.Time) { v.metrics.Observe("cast_vote", start, err) }(time.Now())

	now := v.clock.Now()
	var (
		election *types.Election
		members  int
	)
	err = v.store.Update(ctx, func(txn ledger.Txn) error {
		var err error
		election, err = v.loadElection(txn, electionAddr)
		if err != nil {
			return err
		}
		if election.Status.Terminal() {
			return fmt.Errorf("%w: election is %s", ErrVotingClosed, election.Status)
		}
		reg, err := v.loadRegistry(txn)
		if err != nil {
			return err
		}
		if !reg.IsMember(voter) {
			return fmt.Errorf("%w: %s", ErrVoterNotEligible, voter)
		}
		if election.HasVoted(voter) {
			return fmt.Errorf("%w: %s", ErrDuplicateVote, voter)
		}
		if uint32(election.TotalVotes()) >= v.maxVoters {
			return fmt.Errorf("%w: election holds at most %d votes", ErrCapacityExceeded, v.maxVoters)
		}

		if inFavor {
			election.VotesFor = append(election.VotesFor, voter)
		} else {
			election.VotesAgainst = append(election.VotesAgainst, voter)
		}

		if uint32(election.TotalVotes()) == election.EligibleVoterCount {
			concluded := now
			election.ConcludedAt = &concluded
			if len(election.VotesAgainst) == 0 {
				election.Status = types.StatusApproved
				if members, err = v.admit(txn, election.Candidate); err != nil {
					return err
				}
			} else {
				election.Status = types.StatusRejected
			}
		}
		return txn.Put(electionAddr, v.program, codec.EncodeElection(election))
	})
	if err != nil {
		return nil, err
	}

	v.metrics.RecordVote(inFavor)
	v.logger.Info("Vote cast",
		zap.String("candidate", election.Candidate.Short()),
		zap.String("voter", voter.Short()),
		zap.Bool("in_favor", inFavor),
		zap.Int("votes", election.TotalVotes()),
		zap.Uint32("eligible_voters", election.EligibleVoterCount))
	v.emit(ctx, events.Event{
		Type:      events.VoteCast,
		Timestamp: now,
		Address:   electionAddr,
		Subject:   election.Candidate,
		Actor:     voter,
		InFavor:   inFavor,
	})

	switch election.Status {
	case types.StatusApproved:
		v.metrics.RecordConclusion(true)
		v.metrics.RegistryMembers.Set(float64(members))
		v.logger.Info("Institute admitted",
			zap.String("institute", election.Candidate.Short()),
			zap.Int("members", members))
		v.emit(ctx, events.Event{
			Type:        events.InstituteAdmitted,
			Timestamp:   now,
			Address:     electionAddr,
			Subject:     election.Candidate,
			MemberCount: uint32(members),
		})
	case types.StatusRejected:
		v.metrics.RecordConclusion(false)
		v.logger.Info("Institute rejected",
			zap.String("institute", election.Candidate.Short()),
			zap.Int("votes_for", len(election.VotesFor)),
			zap.Int("votes_against", len(election.VotesAgainst)))
		v.emit(ctx, events.Event{
			Type:         events.InstituteRejected,
			Timestamp:    now,
			Address:      electionAddr,
			Subject:      election.Candidate,
			VotesFor:     uint32(len(election.VotesFor)),
			VotesAgainst: uint32(len(election.VotesAgainst)),
		})
	}

	s := election.Summary(electionAddr)
	return &s, nil
}

// Election returns the state of the election stored at addr
func (v *Validator) Election(ctx context.Context, addr types.Address) (*types.ElectionSummary, error) {
	var summary types.ElectionSummary
	err := v.store.View(ctx, func(txn ledger.Txn) error {
		election, err := v.loadElection(txn, addr)
		if err != nil {
			return err
		}
		summary = election.Summary(addr)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &summary, nil
}

func (v *Validator) ElectionFor(ctx context.Context, candidate types.Identity) (*types.ElectionSummary, error) {
	return v.Election(ctx, v.ElectionAddress(candidate))
}

// Elections lists every election, oldest first. A non-nil status restricts
// the result to elections in that state.
func (v *Validator) Elections(ctx context.Context, status *types.ElectionStatus) ([]types.ElectionSummary, error) {
	var out []types.ElectionSummary
	err := v.store.View(ctx, func(txn ledger.Txn) error {
		return txn.Scan(v.program, func(acct *ledger.Account) error {
			if kind, ok := codec.KindOf(acct.Data); !ok || kind != codec.KindElection {
				return nil
			}
			election, err := codec.DecodeElection(acct.Data)
			if err != nil {
				v.logger.Warn("Skipping unreadable election",
					zap.String("address", acct.Address.String()),
					zap.Error(err))
				return nil
			}
			if status != nil && election.Status != *status {
				return nil
			}
			out = append(out, election.Summary(acct.Address))
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].Candidate.String() < out[j].Candidate.String()
	})
	return out, nil
}

func (v *Validator) loadElection(txn ledger.Txn, addr types.Address) (*types.Election, error) {
	acct, err := txn.Get(addr)
	if errors.Is(err, ledger.ErrAccountNotFound) {
		return nil, fmt.Errorf("%w: no election at %s", ErrNotFound, addr)
	}
	if err != nil {
		return nil, err
	}
	if acct.Owner != v.program {
		return nil, ErrUntrustedAccount
	}
	election, err := codec.DecodeElection(acct.Data)
	if errors.Is(err, codec.ErrDiscriminator) {
		return nil, fmt.Errorf("%w: %s is not an election", ErrUntrustedAccount, addr)
	}
	return election, err
}
