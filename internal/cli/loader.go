package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/ethos/internal/artifact"
	"github.com/roach88/ethos/internal/extract"
	"github.com/roach88/ethos/internal/ir"
)

// SourceOptions selects where a command reads its IR from.
type SourceOptions struct {
	// Artifact is an explicit artifact path.
	Artifact string
	// FromStore reads the latest catalogued IR instead of the artifact file.
	FromStore bool
	// Hash reads one catalogued IR by hash.
	Hash string
}

func (o *SourceOptions) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&o.Artifact, "ir", "", "IR artifact to read (default <ir-dir>/<implementation>.ir.json)")
	cmd.Flags().BoolVar(&o.FromStore, "from-store", false, "read the latest IR recorded in the store")
	cmd.Flags().StringVar(&o.Hash, "hash", "", "read the IR with this hash from the store")
	cmd.MarkFlagsMutuallyExclusive("ir", "from-store", "hash")
}

// loadIR reads impl's IR as selected by src.
func loadIR(ctx context.Context, s *session, impl ir.Implementation, src SourceOptions) (*ir.ProtocolIR, error) {
	if !src.FromStore && src.Hash == "" {
		path := src.Artifact
		if path == "" {
			path = artifact.Path(s.cfg.Pipeline.IRDir, impl)
		}
		s.out.VerboseLog("Reading %s", path)
		doc, err := artifact.Read(path)
		if err != nil {
			return nil, err
		}
		if doc.Implementation != impl {
			return nil, fmt.Errorf("%s holds %s, not %s", path, doc.Implementation, impl)
		}
		return doc, nil
	}

	st, err := s.openStore()
	if err != nil {
		return nil, err
	}
	if st == nil {
		return nil, fmt.Errorf("no store configured")
	}
	defer s.closeStore(st)

	if src.Hash != "" {
		doc, err := st.GetArtifact(ctx, src.Hash)
		if err != nil {
			return nil, err
		}
		if doc.Implementation != impl {
			return nil, fmt.Errorf("artifact %s holds %s, not %s", src.Hash, doc.Implementation, impl)
		}
		return doc, nil
	}
	return st.LatestArtifact(ctx, impl)
}

// loadSnapshot reads impl's IR and extracts version from it.
func loadSnapshot(ctx context.Context, s *session, impl, version string, src SourceOptions) (*ir.VersionSnapshot, error) {
	v, err := ir.ParseVersion(version)
	if err != nil {
		return nil, err
	}
	doc, err := loadIR(ctx, s, ir.Implementation(impl), src)
	if err != nil {
		return nil, err
	}
	return extract.Extract(doc, v)
}
