package main

import (
	"errors"
	"fmt"
	"os"

	"accredit/pkg/protocol"
	"accredit/pkg/types"

	"github.com/spf13/cobra"
)

func certCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "cert",
		Aliases: []string{"certificate"},
		Short:   "Issue, correct and verify certificates",
	}
	cmd.AddCommand(certIssueCmd(), certCorrectCmd(), certVerifyCmd(), certResolveCmd(), certListCmd())
	return cmd
}

// hashSource resolves a content hash from either --hash or --file
type hashSource struct {
	hash string
	file string
}

func (h *hashSource) register(cmd *cobra.Command, prefix, what string) {
	cmd.Flags().StringVar(&h.hash, prefix+"hash", "", what+" content hash (hex)")
	cmd.Flags().StringVar(&h.file, prefix+"file", "", "document whose SHA-256 is the "+what+" content hash")
}

func (h *hashSource) resolve() (types.Hash, error) {
	switch {
	case h.hash != "" && h.file != "":
		return types.Hash{}, errors.New("use either a hash or a file, not both")
	case h.hash != "":
		return types.ParseHash(h.hash)
	case h.file != "":
		data, err := os.ReadFile(h.file)
		if err != nil {
			return types.Hash{}, fmt.Errorf("failed to read document: %w", err)
		}
		return types.HashContent(data), nil
	}
	return types.Hash{}, errors.New("a content hash or file is required")
}

// trustFlags name the registry a write is vouched for by
type trustFlags struct {
	registry  string
	validator string
}

func (f *trustFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.registry, "registry", "", "registry address (default derived from the validator program)")
	cmd.Flags().StringVar(&f.validator, "validator-program", "", "validator program id (default from config)")
}

func (f *trustFlags) resolve(s *session) (types.Address, types.ProgramID, error) {
	program := s.validatorProgram()
	addr := s.registryAddress()
	if f.validator != "" {
		p, err := types.ParseIdentity(f.validator)
		if err != nil {
			return addr, program, err
		}
		program = p
	}
	if f.registry != "" {
		a, err := types.ParseAddress(f.registry)
		if err != nil {
			return addr, program, err
		}
		addr = a
	}
	return addr, program, nil
}

func printCertificate(c types.CertificateSummary) error {
	return emit(c, func() string {
		superseded := "-"
		if c.SupersededBy != nil {
			superseded = c.SupersededBy.String()
		}
		return renderPanel("Certificate", []field{
			{"Address", c.Address.String()},
			{"Content hash", c.ContentHash.String()},
			{"Issuer", c.Issuer.String()},
			{"Status", validityText(c.IsValid)},
			{"Issued", formatTime(&c.IssuedAt)},
			{"Corrected", formatTime(c.CorrectedAt)},
			{"Superseded by", superseded},
		})
	})
}

func certificateRows(certs []types.CertificateSummary) [][]string {
	rows := make([][]string, 0, len(certs))
	for _, c := range certs {
		rows = append(rows, []string{
			c.ContentHash.String(),
			c.Issuer.Short(),
			validityText(c.IsValid),
			formatTime(&c.IssuedAt),
		})
	}
	return rows
}

var certificateHeaders = []string{"CONTENT HASH", "ISSUER", "STATUS", "ISSUED"}

func certIssueCmd() *cobra.Command {
	var (
		content hashSource
		trust   trustFlags
	)

	cmd := &cobra.Command{
		Use:   "issue",
		Short: "Issue a certificate for a document",
		RunE: func(cmd *cobra.Command, args []string) error {
			hash, err := content.resolve()
			if err != nil {
				return err
			}
			s, err := connect(true)
			if err != nil {
				return err
			}
			defer s.Close()
			regAddr, program, err := trust.resolve(s)
			if err != nil {
				return err
			}
			ctx, cancel := s.context()
			defer cancel()

			resp, err := s.client.AddCertificate(ctx, &protocol.AddCertificateRequest{
				ContentHash:      hash,
				RegistryAddress:  regAddr,
				ValidatorProgram: program,
			})
			if err != nil {
				return err
			}
			return printCertificate(resp.Certificate)
		},
	}
	content.register(cmd, "", "certificate")
	trust.register(cmd)
	return cmd
}

func certCorrectCmd() *cobra.Command {
	var (
		oldContent hashSource
		newContent hashSource
		trust      trustFlags
	)

	cmd := &cobra.Command{
		Use:   "correct",
		Short: "Replace a certificate with a corrected document",
		Long: `Invalidate the certificate for the old document and issue one for the new
document in a single step. Only the original issuer may correct.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			oldHash, err := oldContent.resolve()
			if err != nil {
				return fmt.Errorf("old: %w", err)
			}
			newHash, err := newContent.resolve()
			if err != nil {
				return fmt.Errorf("new: %w", err)
			}
			s, err := connect(true)
			if err != nil {
				return err
			}
			defer s.Close()
			regAddr, program, err := trust.resolve(s)
			if err != nil {
				return err
			}
			ctx, cancel := s.context()
			defer cancel()

			resp, err := s.client.CorrectCertificate(ctx, &protocol.CorrectCertificateRequest{
				OldHash:          oldHash,
				NewHash:          newHash,
				RegistryAddress:  regAddr,
				ValidatorProgram: program,
			})
			if err != nil {
				return err
			}
			return printCertificate(resp.Certificate)
		},
	}
	oldContent.register(cmd, "old-", "old")
	newContent.register(cmd, "new-", "new")
	trust.register(cmd)
	return cmd
}

func certVerifyCmd() *cobra.Command {
	var content hashSource

	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Check a document's certificate",
		RunE: func(cmd *cobra.Command, args []string) error {
			hash, err := content.resolve()
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

			resp, err := s.client.VerifyCertificate(ctx, &protocol.VerifyCertificateRequest{ContentHash: &hash})
			if err != nil {
				return err
			}
			return printCertificate(resp.Certificate)
		},
	}
	content.register(cmd, "", "certificate")
	return cmd
}

func certResolveCmd() *cobra.Command {
	var content hashSource

	cmd := &cobra.Command{
		Use:   "resolve",
		Short: "Follow corrections to the current certificate",
		RunE: func(cmd *cobra.Command, args []string) error {
			hash, err := content.resolve()
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

			resp, err := s.client.ResolveCertificate(ctx, &protocol.ResolveCertificateRequest{ContentHash: hash})
			if err != nil {
				return err
			}
			return emit(resp.Chain, func() string {
				return renderTable(certificateHeaders, certificateRows(resp.Chain))
			})
		},
	}
	content.register(cmd, "", "certificate")
	return cmd
}

func certListCmd() *cobra.Command {
	var issuer string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List certificates issued by an institute",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := connect(issuer == "")
			if err != nil {
				return err
			}
			defer s.Close()

			var id types.Identity
			if issuer != "" {
				if id, err = types.ParseIdentity(issuer); err != nil {
					return err
				}
			} else {
				id = s.key.Identity()
			}
			ctx, cancel := s.context()
			defer cancel()

			resp, err := s.client.ListCertificates(ctx, &protocol.ListCertificatesRequest{Issuer: id})
			if err != nil {
				return err
			}
			return emit(resp.Certificates, func() string {
				return renderTable(certificateHeaders, certificateRows(resp.Certificates))
			})
		},
	}
	cmd.Flags().StringVar(&issuer, "issuer", "", "issuer identity (default: own key)")
	return cmd
}
