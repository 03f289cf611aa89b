package protocol

import (
	"accredit/pkg/events"
	"accredit/pkg/types"
)

// The caller of every state-changing method is the authenticated institute:
// it is the authority on InitializeRegistry and RemoveInstitute, the proposer
// on OpenElection, the voter on CastVote and the issuer on certificate writes.

type InitializeRegistryRequest struct {
	Members []types.Identity `json:"members"`
}

type GetRegistryRequest struct{}

type RemoveInstituteRequest struct {
	Institute types.Identity `json:"institute"`
}

type RegistryResponse struct {
	Address   types.Address    `json:"address"`
	Program   types.ProgramID  `json:"program"`
	Authority types.Identity   `json:"authority"`
	Members   []types.Identity `json:"members"`
	Capacity  uint32           `json:"capacity"`
}

type OpenElectionRequest struct {
	Candidate types.Identity `json:"candidate"`
}

type CastVoteRequest struct {
	Election types.Address `json:"election"`
	InFavor  bool          `json:"in_favor"`
}

// GetElectionRequest looks an election up by address, or by candidate when
// no address is given.
type GetElectionRequest struct {
	Election  *types.Address  `json:"election,omitempty"`
	Candidate *types.Identity `json:"candidate,omitempty"`
}

type ElectionResponse struct {
	Election types.ElectionSummary `json:"election"`
}

type ListElectionsRequest struct {
	Status string `json:"status,omitempty"`
}

type ListElectionsResponse struct {
	Elections []types.ElectionSummary `json:"elections"`
}

type AddCertificateRequest struct {
	ContentHash      types.Hash      `json:"content_hash"`
	RegistryAddress  types.Address   `json:"registry_address"`
	ValidatorProgram types.ProgramID `json:"validator_program"`
}

type CorrectCertificateRequest struct {
	OldHash          types.Hash      `json:"old_hash"`
	NewHash          types.Hash      `json:"new_hash"`
	RegistryAddress  types.Address   `json:"registry_address"`
	ValidatorProgram types.ProgramID `json:"validator_program"`
}

// VerifyCertificateRequest looks a certificate up by address, or by content
// hash when no address is given.
type VerifyCertificateRequest struct {
	Address     *types.Address `json:"address,omitempty"`
	ContentHash *types.Hash    `json:"content_hash,omitempty"`
}

type CertificateResponse struct {
	Certificate types.CertificateSummary `json:"certificate"`
}

type ResolveCertificateRequest struct {
	ContentHash types.Hash `json:"content_hash"`
}

type ResolveCertificateResponse struct {
	Chain []types.CertificateSummary `json:"chain"`
}

type ListCertificatesRequest struct {
	Issuer types.Identity `json:"issuer"`
}

type ListCertificatesResponse struct {
	Certificates []types.CertificateSummary `json:"certificates"`
}

type ListEventsRequest struct {
	Type    string          `json:"type,omitempty"`
	Subject *types.Identity `json:"subject,omitempty"`
	Actor   *types.Identity `json:"actor,omitempty"`
	Since   int64           `json:"since,omitempty"`
	Limit   int             `json:"limit,omitempty"`
}

type ListEventsResponse struct {
	Events []events.Event `json:"events"`
}
