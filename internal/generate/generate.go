// Package generate turns a generation request into config files and run
// scripts on disk.
//
// Generation runs in three stages: [NewPlan] validates the request and
// computes the model, [Plan.Artifacts] serializes it, and [Write] puts the
// result on disk. All validation happens in the first stage, so invalid
// input never leaves partial output behind.
package generate

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/cachekit/ck/internal/fs"
	"github.com/cachekit/ck/internal/runscript"
	"github.com/cachekit/ck/internal/servercfg"
	"github.com/cachekit/ck/internal/topology"
)

// ErrBinaryRequired is returned when no server binary is given.
var ErrBinaryRequired = errors.New("server binary is required")

const (
	dirPerm    = 0o755
	configPerm = 0o644
	scriptPerm = 0o755
)

// Request holds everything needed to generate a run directory.
type Request struct {
	Binary   string
	Engine   topology.Engine
	Topology topology.Topology
	Sizing   topology.Sizing
}

// Plan is the validated, fully computed generation model.
type Plan struct {
	Request Request
	Derived topology.Derived
	Configs []servercfg.File
	Scripts runscript.Params
}

// Artifact is one file to write, with a path relative to the output root.
type Artifact struct {
	Path    string
	Content []byte
	Mode    os.FileMode
}

// NewPlan validates req and builds the config model of every instance.
func NewPlan(req Request) (*Plan, error) {
	if req.Binary == "" {
		return nil, ErrBinaryRequired
	}

	if err := req.Topology.Validate(); err != nil {
		return nil, err
	}

	derived, err := req.Sizing.Derive()
	if err != nil {
		return nil, err
	}

	configs := make([]servercfg.File, req.Topology.Instances)
	for i := range configs {
		configs[i] = servercfg.Build(req.Engine, req.Topology, derived, i)
	}

	return &Plan{
		Request: req,
		Derived: derived,
		Configs: configs,
		Scripts: runscript.Params{
			Binary:   req.Binary,
			Engine:   req.Engine,
			Topology: req.Topology,
		},
	}, nil
}

// Artifacts renders every file of the plan: one config per instance, then
// bring-up.sh and warm-up.sh.
func (p *Plan) Artifacts() []Artifact {
	out := make([]Artifact, 0, len(p.Configs)+2)

	for _, c := range p.Configs {
		out = append(out, Artifact{Path: c.Path(), Content: servercfg.Render(c), Mode: configPerm})
	}

	out = append(out,
		Artifact{Path: runscript.BringUpName, Content: runscript.BringUp(p.Scripts), Mode: scriptPerm},
		Artifact{Path: runscript.WarmUpName, Content: runscript.WarmUp(p.Scripts), Mode: scriptPerm},
	)

	return out
}

// Write creates root with its config and log directories and writes every
// artifact below root. Existing directories are reused and existing files
// of the same name are replaced. It returns the written paths, joined with
// root, in order.
func Write(fsys fs.FS, root string, artifacts []Artifact) ([]string, error) {
	for _, dir := range []string{
		root,
		filepath.Join(root, servercfg.ConfigDir),
		filepath.Join(root, servercfg.LogDir),
	} {
		if err := fsys.MkdirAll(dir, dirPerm); err != nil {
			return nil, fmt.Errorf("create directory %s: %w", dir, err)
		}
	}

	written := make([]string, 0, len(artifacts))

	for _, a := range artifacts {
		path := filepath.Join(root, filepath.FromSlash(a.Path))

		if err := fsys.WriteFileAtomic(path, a.Content, a.Mode); err != nil {
			return written, err
		}

		written = append(written, path)
	}

	return written, nil
}

// Run plans req and writes the result below root.
func Run(fsys fs.FS, root string, req Request) (*Plan, []string, error) {
	plan, err := NewPlan(req)
	if err != nil {
		return nil, nil, err
	}

	written, err := Write(fsys, root, plan.Artifacts())

	return plan, written, err
}
