package pairing

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/thedongcc/Tcom-sub002/internal/fault"
	"github.com/thedongcc/Tcom-sub002/internal/logging"
)

// runPairTool is swapped by tests to avoid spawning the real setup tool.
var runPairTool = func(ctx context.Context, path string, args ...string) ([]byte, error) {
	command := exec.CommandContext(ctx, path, args...)
	return command.CombinedOutput()
}

// ExecProvider drives a com0com-style setup tool. The tool prints one line
// per pair endpoint:
//
//	CNCA0 PortName=COM11
//	CNCB0 PortName=COM12
//
// where the trailing digits are the pair index and A/B the endpoint. A
// PortName of "-" means the endpoint keeps its device name.
type ExecProvider struct {
	mu       sync.Mutex
	toolPath string
	logger   *logging.Logger
}

var _ Provider = (*ExecProvider)(nil)

func NewExecProvider(toolPath string, logger *logging.Logger) *ExecProvider {
	if logger == nil {
		logger = logging.Discard()
	}
	return &ExecProvider{toolPath: toolPath, logger: logger}
}

// SetToolPath points the provider at a different tool binary.
func (p *ExecProvider) SetToolPath(path string) {
	p.mu.Lock()
	p.toolPath = path
	p.mu.Unlock()
}

func (p *ExecProvider) ToolPath() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.toolPath
}

func (p *ExecProvider) List(ctx context.Context) ([]PairInfo, error) {
	output, err := p.run(ctx, "list")
	if err != nil {
		return nil, err
	}
	return parsePairList(output)
}

func (p *ExecProvider) Create(ctx context.Context, portA, portB string) (PairInfo, error) {
	output, err := p.run(ctx, "install", "PortName="+portA, "PortName="+portB)
	if err != nil {
		return PairInfo{}, err
	}
	pairs, err := parsePairList(output)
	if err != nil {
		return PairInfo{}, err
	}
	for _, pair := range pairs {
		if pair.PortA == portA || pair.PortB == portB {
			return pair, nil
		}
	}
	if len(pairs) > 0 {
		return pairs[len(pairs)-1], nil
	}
	return PairInfo{}, fault.Transportf("pairing tool reported no pair for %s/%s", portA, portB)
}

func (p *ExecProvider) Remove(ctx context.Context, pairID string) error {
	if _, err := strconv.Atoi(pairID); err != nil {
		return fault.Configf("pair id %q is not a tool index", pairID)
	}
	_, err := p.run(ctx, "remove", pairID)
	return err
}

func (p *ExecProvider) run(ctx context.Context, args ...string) (string, error) {
	path := p.ToolPath()
	if path == "" {
		return "", fault.Configf("pairing tool path is not set")
	}
	output, err := runPairTool(ctx, path, args...)
	if err != nil {
		return "", classifyToolError(err, output, args[0])
	}
	return string(output), nil
}

// classifyToolError maps privilege failures to the unauthorized class so
// callers can suppress them while the feature is disabled.
func classifyToolError(err error, output []byte, op string) error {
	text := strings.TrimSpace(string(output))
	combined := strings.ToLower(text + " " + err.Error())
	wrapped := err
	if text != "" {
		wrapped = fmt.Errorf("%w: %s", err, text)
	}
	if errors.Is(err, os.ErrPermission) ||
		strings.Contains(combined, "access is denied") ||
		strings.Contains(combined, "access denied") ||
		strings.Contains(combined, "administrator") ||
		strings.Contains(combined, "elevation") ||
		strings.Contains(combined, "permission denied") {
		return fault.Unauthorized(wrapped, "pairing tool "+op)
	}
	return fault.Transport(wrapped, "pairing tool "+op)
}

// parsePairList decodes endpoint lines into pairs, sorted by index.
func parsePairList(output string) ([]PairInfo, error) {
	type ends struct {
		a, b string
	}
	byIndex := make(map[int]*ends)
	for _, line := range strings.Split(output, "\n") {
		fields := strings.Fields(strings.TrimSpace(line))
		if len(fields) == 0 {
			continue
		}
		device := fields[0]
		if !strings.HasPrefix(device, "CNC") || len(device) < 5 {
			continue
		}
		side := device[3]
		if side != 'A' && side != 'B' {
			continue
		}
		index, err := strconv.Atoi(device[4:])
		if err != nil {
			continue
		}
		name := device
		if len(fields) > 1 {
			if parsed := portNameParam(fields[1]); parsed != "" {
				name = parsed
			}
		}
		pair := byIndex[index]
		if pair == nil {
			pair = &ends{}
			byIndex[index] = pair
		}
		if side == 'A' {
			pair.a = name
		} else {
			pair.b = name
		}
	}

	indexes := make([]int, 0, len(byIndex))
	for index := range byIndex {
		indexes = append(indexes, index)
	}
	sort.Ints(indexes)

	pairs := make([]PairInfo, 0, len(indexes))
	for _, index := range indexes {
		pair := byIndex[index]
		if pair.a == "" || pair.b == "" {
			continue
		}
		pairs = append(pairs, PairInfo{
			ID:    strconv.Itoa(index),
			PortA: pair.a,
			PortB: pair.b,
		})
	}
	return pairs, nil
}

// portNameParam extracts the PortName value from a comma-joined parameter
// list. "-" keeps the device name.
func portNameParam(params string) string {
	for _, param := range strings.Split(params, ",") {
		value, ok := strings.CutPrefix(param, "PortName=")
		if !ok {
			continue
		}
		if value == "-" {
			return ""
		}
		return value
	}
	return ""
}
