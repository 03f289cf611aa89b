package main

import (
	"os"
	"path/filepath"
	"testing"

	"accredit/pkg/config"
	"accredit/pkg/events"
	"accredit/pkg/registry"
	"accredit/pkg/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashSource(t *testing.T) {
	doc := filepath.Join(t.TempDir(), "diploma.pdf")
	require.NoError(t, os.WriteFile(doc, []byte("diploma"), 0o600))
	want := types.HashContent([]byte("diploma"))

	tests := []struct {
		name    string
		src     hashSource
		wantErr bool
	}{
		{name: "File", src: hashSource{file: doc}},
		{name: "Hash", src: hashSource{hash: want.String()}},
		{name: "Both", src: hashSource{hash: want.String(), file: doc}, wantErr: true},
		{name: "Neither", wantErr: true},
		{name: "MissingFile", src: hashSource{file: doc + ".missing"}, wantErr: true},
		{name: "ShortHash", src: hashSource{hash: "abcd"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.src.resolve()
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, want, got)
		})
	}
}

func TestTrustFlagsDefaults(t *testing.T) {
	cfg := config.Default()
	s := &session{cfg: cfg}

	addr, program, err := (&trustFlags{}).resolve(s)
	require.NoError(t, err)
	assert.Equal(t, registry.DefaultProgramID, program)
	assert.Equal(t, registry.RegistryAddress(registry.DefaultProgramID), addr)

	forged := types.NamedProgram("impostor")
	_, program, err = (&trustFlags{validator: forged.String()}).resolve(s)
	require.NoError(t, err)
	assert.Equal(t, forged, program)
}

func TestEventDetail(t *testing.T) {
	prev := types.HashContent([]byte("a"))
	next := types.HashContent([]byte("b"))

	assert.Equal(t, "against", eventDetail(events.Event{Type: events.VoteCast}))
	assert.Equal(t, "3 members", eventDetail(events.Event{Type: events.InstituteAdmitted, MemberCount: 3}))
	assert.Equal(t, prev.String()[:16]+" -> "+next.String()[:16],
		eventDetail(events.Event{Type: events.CertificateCorrected, PreviousHash: &prev, ContentHash: &next}))
}
