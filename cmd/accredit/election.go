package main

import (
	"fmt"

	"accredit/pkg/protocol"
	"accredit/pkg/types"

	"github.com/spf13/cobra"
)

func electionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "election",
		Aliases: []string{"elections"},
		Short:   "Open and vote in admission elections",
	}
	cmd.AddCommand(electionOpenCmd(), electionVoteCmd(), electionShowCmd(), electionListCmd())
	return cmd
}

func printElection(e types.ElectionSummary) error {
	return emit(e, func() string {
		return renderPanel("Admission election", []field{
			{"Address", e.Address.String()},
			{"Candidate", e.Candidate.String()},
			{"Status", statusText(e.Status)},
			{"Votes", fmt.Sprintf("%d for, %d against, %d eligible", e.VotesFor, e.VotesAgainst, e.EligibleVoterCount)},
			{"Approval", fmt.Sprintf("%d%%", e.ApprovalPercentage)},
			{"Opened", formatTime(&e.CreatedAt)},
			{"Concluded", formatTime(e.ConcludedAt)},
		})
	})
}

func electionOpenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "open <candidate-identity>",
		Short: "Propose a candidate for membership",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			candidate, err := types.ParseIdentity(args[0])
			if err != nil {
				return err
			}
			s, err := connect(true)
			if err != nil {
				return err
			}
			defer s.Close()
			ctx, cancel := s.context()
			defer cancel()

			resp, err := s.client.OpenElection(ctx, &protocol.OpenElectionRequest{Candidate: candidate})
			if err != nil {
				return err
			}
			return printElection(resp.Election)
		},
	}
}

func electionVoteCmd() *cobra.Command {
	var reject bool

	cmd := &cobra.Command{
		Use:   "vote <candidate-identity>",
		Short: "Vote on a candidate's admission",
		Long: `Cast this institute's ballot. Votes are in favour unless --reject is given.
The election concludes when every institute counted at opening has voted.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			candidate, err := types.ParseIdentity(args[0])
			if err != nil {
				return err
			}
			s, err := connect(true)
			if err != nil {
				return err
			}
			defer s.Close()
			ctx, cancel := s.context()
			defer cancel()

			current, err := s.client.GetElection(ctx, &protocol.GetElectionRequest{Candidate: &candidate})
			if err != nil {
				return err
			}
			resp, err := s.client.CastVote(ctx, &protocol.CastVoteRequest{
				Election: current.Election.Address,
				InFavor:  !reject,
			})
			if err != nil {
				return err
			}
			return printElection(resp.Election)
		},
	}
	cmd.Flags().BoolVar(&reject, "reject", false, "vote against admission")
	return cmd
}

func electionShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <candidate-identity>",
		Short: "Show the election for a candidate",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			candidate, err := types.ParseIdentity(args[0])
			if err != nil {
				return err
			}
			s, err := connect(false)
			if err != nil {
				return err
			}
			defer s.Close()
			ctx, cancel := s.context()
			defer cancel()

			resp, err := s.client.GetElection(ctx, &protocol.GetElectionRequest{Candidate: &candidate})
			if err != nil {
				return err
			}
			return printElection(resp.Election)
		},
	}
}

func electionListCmd() *cobra.Command {
	var status string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List elections",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := connect(false)
			if err != nil {
				return err
			}
			defer s.Close()
			ctx, cancel := s.context()
			defer cancel()

			resp, err := s.client.ListElections(ctx, &protocol.ListElectionsRequest{Status: status})
			if err != nil {
				return err
			}
			return emit(resp.Elections, func() string {
				rows := make([][]string, 0, len(resp.Elections))
				for _, e := range resp.Elections {
					rows = append(rows, []string{
						e.Candidate.Short(),
						statusText(e.Status),
						fmt.Sprintf("%d/%d", e.VotesFor, e.EligibleVoterCount),
						fmt.Sprintf("%d", e.VotesAgainst),
						formatTime(&e.CreatedAt),
					})
				}
				return renderTable([]string{"CANDIDATE", "STATUS", "FOR", "AGAINST", "OPENED"}, rows)
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "filter by status (active, approved, rejected)")
	return cmd
}
