package engine

import (
	"bufio"
	"bytes"
	"context"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os/exec"

	"github.com/mattn/go-shellwords"
)

type execEngine struct {
	cmd []string
}

type execHandle struct {
	cmd        []string
	modelPath  string
	device     string
	sampleRate int
}

type execRequest struct {
	Text        string  `json:"text"`
	Speaker     string  `json:"speaker,omitempty"`
	Temperature float64 `json:"temperature"`
	TopP        float64 `json:"top_p"`
	SampleRate  int     `json:"sample_rate"`
}

type execResponse struct {
	PCMBase64 string `json:"pcm_base64"`
	Error     string `json:"error,omitempty"`
}

// NewExecEngine builds an engine that shells out to an external model
// runtime for each chunk. The command line is parsed once up front.
func NewExecEngine(command string) (Engine, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(command)
	if err != nil {
		return nil, fmt.Errorf("parse engine command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("engine command empty")
	}
	return &execEngine{cmd: args}, nil
}

func (e *execEngine) Load(ctx context.Context, modelPath string, opts Options) (Handle, error) {
	// Probe the runtime so a broken install fails at load time, not on
	// the first synthesis request.
	args := append(cloneArgs(e.cmd[1:]), "--model", modelPath, "--device", opts.Device, "--probe")
	probe := exec.CommandContext(ctx, e.cmd[0], args...)
	var stderr bytes.Buffer
	probe.Stderr = &stderr
	if err := probe.Run(); err != nil {
		return nil, fmt.Errorf("engine probe failed: %w: %s", err, stderr.String())
	}
	return &execHandle{
		cmd:        e.cmd,
		modelPath:  modelPath,
		device:     opts.Device,
		sampleRate: opts.SampleRate,
	}, nil
}

func (h *execHandle) Synthesize(ctx context.Context, text, speaker string, params Params) ([]int16, error) {
	payload, err := json.Marshal(execRequest{
		Text:        text,
		Speaker:     speaker,
		Temperature: params.Temperature,
		TopP:        params.TopP,
		SampleRate:  h.sampleRate,
	})
	if err != nil {
		return nil, err
	}

	args := append(cloneArgs(h.cmd[1:]), "--model", h.modelPath, "--device", h.device)
	cmd := exec.CommandContext(ctx, h.cmd[0], args...)
	cmd.Stdin = bytes.NewReader(payload)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Start(); err != nil {
		return nil, err
	}

	var pcm []byte
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		var resp execResponse
		if err := json.Unmarshal(line, &resp); err != nil {
			cmd.Wait()
			return nil, fmt.Errorf("decode engine response: %w", err)
		}
		if resp.Error != "" {
			cmd.Wait()
			return nil, fmt.Errorf("engine: %s", resp.Error)
		}
		part, err := base64.StdEncoding.DecodeString(resp.PCMBase64)
		if err != nil {
			cmd.Wait()
			return nil, fmt.Errorf("decode engine pcm: %w", err)
		}
		pcm = append(pcm, part...)
	}
	if err := cmd.Wait(); err != nil {
		return nil, fmt.Errorf("engine command failed: %w: %s", err, stderr.String())
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return pcmToSamples(pcm)
}

func (h *execHandle) Close() error { return nil }

func pcmToSamples(pcm []byte) ([]int16, error) {
	if len(pcm)%2 != 0 {
		return nil, fmt.Errorf("pcm payload not aligned")
	}
	samples := make([]int16, len(pcm)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(pcm[i*2:]))
	}
	return samples, nil
}

func cloneArgs(args []string) []string {
	return append([]string{}, args...)
}
