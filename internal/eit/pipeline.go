package eit

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"

	"github.com/cbroglie/mustache"

	tunerderrors "github.com/mirakutu/tunerd/internal/errors"
	"github.com/mirakutu/tunerd/internal/logger"
)

// renderCommandLine renders tmpl with the sids/xsids array bindings the
// external command template surface is fixed to. A pipe-separated template
// ("stage1 | stage2") yields a multi-stage pipeline; no shell is invoked to
// split or run it.
func renderCommandLine(tmpl string, sids, xsids []uint16) (string, error) {
	ctx := map[string]any{
		"sids":  sids,
		"xsids": xsids,
	}
	rendered, err := mustache.Render(tmpl, ctx)
	if err != nil {
		return "", tunerderrors.NewPipelineError("pipeline.render", err)
	}
	return rendered, nil
}

// Pipeline is an ordered chain of child processes connected by pipes,
// exposing one input (the first stage's stdin) and one output (the last
// stage's stdout). Dropping a Pipeline via Close kills every stage; this is
// the safety net that keeps the tuner-release ordering sound (see
// Collector.runChannel).
type Pipeline struct {
	cmds     []*exec.Cmd
	input    io.WriteCloser
	output   io.ReadCloser
	stderrWg sync.WaitGroup
}

// NewPipeline renders cmdTemplate against channel's service bindings and
// spawns the resulting command line (split on "|" into stages, each
// stage's argv split on whitespace) as a running Pipeline.
func NewPipeline(ctx context.Context, cmdTemplate string, channel EpgChannel) (*Pipeline, error) {
	rendered, err := renderCommandLine(cmdTemplate, channel.Services, channel.ExcludedServices)
	if err != nil {
		return nil, err
	}

	stages := strings.Split(rendered, "|")
	cmds := make([]*exec.Cmd, 0, len(stages))
	for _, stage := range stages {
		argv := strings.Fields(strings.TrimSpace(stage))
		if len(argv) == 0 {
			return nil, tunerderrors.NewPipelineError("pipeline.spawn", fmt.Errorf("empty pipeline stage in command %q", rendered))
		}
		cmds = append(cmds, exec.CommandContext(ctx, argv[0], argv[1:]...))
	}

	p := &Pipeline{cmds: cmds}

	input, err := cmds[0].StdinPipe()
	if err != nil {
		return nil, tunerderrors.NewPipelineError("pipeline.spawn", err)
	}
	p.input = input

	var stagePipes []*os.File
	for i := 0; i < len(cmds)-1; i++ {
		pr, pw, err := os.Pipe()
		if err != nil {
			return nil, tunerderrors.NewPipelineError("pipeline.spawn", err)
		}
		cmds[i].Stdout = pw
		cmds[i+1].Stdin = pr
		stagePipes = append(stagePipes, pr, pw)
	}

	output, err := cmds[len(cmds)-1].StdoutPipe()
	if err != nil {
		return nil, tunerderrors.NewPipelineError("pipeline.spawn", err)
	}
	p.output = output

	log := logger.Logger().With("component", "eit.pipeline", "channel", channel.Name)
	for i, cmd := range cmds {
		stderr, err := cmd.StderrPipe()
		if err != nil {
			return nil, tunerderrors.NewPipelineError("pipeline.spawn", err)
		}
		if err := cmd.Start(); err != nil {
			return nil, tunerderrors.NewPipelineError("pipeline.spawn", err)
		}
		p.stderrWg.Add(1)
		go func(stage int, stderr io.ReadCloser) {
			defer p.stderrWg.Done()
			scanner := bufio.NewScanner(stderr)
			for scanner.Scan() {
				log.Debug("pipeline stderr", "stage", stage, "line", scanner.Text())
			}
		}(i, stderr)
	}
	// The children hold their own copies of the inter-stage pipe ends; closing
	// ours lets each stage see EOF once the stage before it exits.
	for _, f := range stagePipes {
		f.Close()
	}

	return p, nil
}

// Input returns the write end into the first pipeline stage.
func (p *Pipeline) Input() io.WriteCloser { return p.input }

// Output returns the read end from the last pipeline stage.
func (p *Pipeline) Output() io.ReadCloser { return p.output }

// Close kills every stage and waits for them to exit, returning the first
// error encountered. Once the stages are gone, writes into Input fail, which
// is what ends the pump task feeding it and lets it release the tuner; see
// Collector.runChannel for why the caller must await that pump before
// reusing the tuner.
func (p *Pipeline) Close() error {
	var firstErr error
	for _, cmd := range p.cmds {
		if cmd.Process != nil {
			if err := cmd.Process.Kill(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	}
	for _, cmd := range p.cmds {
		_ = cmd.Wait()
	}
	p.stderrWg.Wait()
	return firstErr
}
