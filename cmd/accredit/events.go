package main

import (
	"fmt"
	"time"

	"accredit/pkg/events"
	"accredit/pkg/protocol"
	"accredit/pkg/types"

	"github.com/spf13/cobra"
)

func eventsCmd() *cobra.Command {
	var (
		eventType string
		subject   string
		actor     string
		since     time.Duration
		limit     int
	)

	cmd := &cobra.Command{
		Use:   "events",
		Short: "Show the audit log",
		RunE: func(cmd *cobra.Command, args []string) error {
			req := &protocol.ListEventsRequest{Type: eventType, Limit: limit}
			if subject != "" {
				id, err := types.ParseIdentity(subject)
				if err != nil {
					return err
				}
				req.Subject = &id
			}
			if actor != "" {
				id, err := types.ParseIdentity(actor)
				if err != nil {
					return err
				}
				req.Actor = &id
			}
			if since > 0 {
				req.Since = time.Now().Add(-since).Unix()
			}

			s, err := connect(false)
			if err != nil {
				return err
			}
			defer s.Close()
			ctx, cancel := s.context()
			defer cancel()

			resp, err := s.client.ListEvents(ctx, req)
			if err != nil {
				return err
			}
			return emit(resp.Events, func() string {
				rows := make([][]string, 0, len(resp.Events))
				for _, ev := range resp.Events {
					rows = append(rows, []string{
						formatTime(&ev.Timestamp),
						string(ev.Type),
						shortOrDash(ev.Subject),
						shortOrDash(ev.Actor),
						eventDetail(ev),
					})
				}
				return renderTable([]string{"TIME", "EVENT", "SUBJECT", "ACTOR", "DETAIL"}, rows)
			})
		},
	}
	cmd.Flags().StringVar(&eventType, "type", "", "event type")
	cmd.Flags().StringVar(&subject, "subject", "", "subject identity")
	cmd.Flags().StringVar(&actor, "actor", "", "actor identity")
	cmd.Flags().DurationVar(&since, "since", 0, "only events newer than this")
	cmd.Flags().IntVar(&limit, "limit", 100, "maximum number of events")
	return cmd
}

func shortOrDash(id types.Identity) string {
	if id.IsZero() {
		return "-"
	}
	return id.Short()
}

func eventDetail(ev events.Event) string {
	switch ev.Type {
	case events.VoteCast:
		if ev.InFavor {
			return "in favour"
		}
		return "against"
	case events.ElectionOpened:
		return fmt.Sprintf("%d eligible", ev.EligibleVoters)
	case events.InstituteRejected:
		return fmt.Sprintf("%d for, %d against", ev.VotesFor, ev.VotesAgainst)
	case events.RegistryInitialized, events.InstituteAdmitted, events.InstituteRemoved:
		return fmt.Sprintf("%d members", ev.MemberCount)
	case events.CertificateAdded:
		if ev.ContentHash != nil {
			return ev.ContentHash.String()[:16]
		}
	case events.CertificateCorrected:
		if ev.ContentHash != nil && ev.PreviousHash != nil {
			return ev.PreviousHash.String()[:16] + " -> " + ev.ContentHash.String()[:16]
		}
	}
	return ""
}
