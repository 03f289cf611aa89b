package main

import (
	"fmt"
	"strconv"

	"accredit/pkg/protocol"
	"accredit/pkg/types"

	"github.com/spf13/cobra"
)

func registryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "registry",
		Short: "Inspect and administer the institute registry",
	}
	cmd.AddCommand(registryInitCmd(), registryShowCmd(), registryRemoveCmd())
	return cmd
}

func parseIdentities(args []string) ([]types.Identity, error) {
	ids := make([]types.Identity, 0, len(args))
	for _, arg := range args {
		id, err := types.ParseIdentity(arg)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func printRegistry(reg *protocol.RegistryResponse) error {
	return emit(reg, func() string {
		rows := make([][]string, 0, len(reg.Members))
		for i, m := range reg.Members {
			rows = append(rows, []string{strconv.Itoa(i + 1), m.String()})
		}
		return renderPanel("Institute registry", []field{
			{"Address", reg.Address.String()},
			{"Validator program", reg.Program.String()},
			{"Authority", reg.Authority.String()},
			{"Members", fmt.Sprintf("%d / %d", len(reg.Members), reg.Capacity)},
		}) + "\n" + renderTable([]string{"#", "INSTITUTE"}, rows)
	})
}

func registryInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init [member-identity...]",
		Short: "Create the registry with its founding members",
		Long: `Create the registry. The caller's key becomes the registry authority,
which alone may later remove institutes. This succeeds once per federation.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			members, err := parseIdentities(args)
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

			reg, err := s.client.InitializeRegistry(ctx, &protocol.InitializeRegistryRequest{Members: members})
			if err != nil {
				return err
			}
			return printRegistry(reg)
		},
	}
}

func registryShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the registry members",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := connect(false)
			if err != nil {
				return err
			}
			defer s.Close()
			ctx, cancel := s.context()
			defer cancel()

			reg, err := s.client.GetRegistry(ctx, &protocol.GetRegistryRequest{})
			if err != nil {
				return err
			}
			return printRegistry(reg)
		},
	}
}

func registryRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <institute-identity>",
		Short: "Remove an institute (registry authority only)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := types.ParseIdentity(args[0])
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

			reg, err := s.client.RemoveInstitute(ctx, &protocol.RemoveInstituteRequest{Institute: id})
			if err != nil {
				return err
			}
			return printRegistry(reg)
		},
	}
}
