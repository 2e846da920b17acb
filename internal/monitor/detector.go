package monitor

import (
	"regexp"
	"strings"

	"github.com/rs/zerolog/log"
)

// Detector scans submitted code and captured output for signs of sandbox
// escape attempts. It never blocks an execution: the container policy does
// the enforcement, the detector only feeds logs and counters.
type Detector struct {
	patterns []pattern
}

type pattern struct {
	name     string
	detail   string
	severity string
	re       *regexp.Regexp
}

// Detection is one suspicious match.
type Detection struct {
	Pattern  string `json:"pattern"`
	Severity string `json:"severity"`
	Detail   string `json:"detail"`
	Line     int    `json:"line,omitempty"`
}

// NewDetector creates a detector with the default pattern set.
func NewDetector() *Detector {
	return &Detector{patterns: codePatterns}
}

// Scan checks submitted code line by line before execution.
func (d *Detector) Scan(code string) []Detection {
	var detections []Detection

	for i, line := range strings.Split(code, "\n") {
		for _, p := range d.patterns {
			if !p.re.MatchString(line) {
				continue
			}
			detections = append(detections, Detection{
				Pattern:  p.name,
				Severity: p.severity,
				Detail:   p.detail,
				Line:     i + 1,
			})

			log.Warn().
				Str("pattern", p.name).
				Str("severity", p.severity).
				Int("line", i+1).
				Msg("suspicious pattern in submitted code")
		}
	}

	return detections
}

// ScanOutput checks captured output for signs of a successful escape.
func (d *Detector) ScanOutput(output string) []Detection {
	var detections []Detection

	for _, p := range outputMarkers {
		if strings.Contains(output, p.substr) {
			detections = append(detections, Detection{
				Pattern:  p.name,
				Severity: p.severity,
				Detail:   "suspicious content in output",
			})
		}
	}

	return detections
}

// Patterns target what python/node payloads actually try against this
// sandbox: reaching the engine socket, the host filesystem through /proc,
// cgroup breakouts, and the cloud metadata endpoint that --network none is
// there to block.
var codePatterns = []pattern{
	{
		name:     "proc_self_access",
		detail:   "reads /proc/self for process or namespace info",
		severity: "high",
		re:       regexp.MustCompile(`/proc/self/(root|exe|fd|ns|maps|environ)`),
	},
	{
		name:     "cgroup_breakout",
		detail:   "touches cgroup release_agent machinery",
		severity: "critical",
		re:       regexp.MustCompile(`/sys/fs/cgroup|notify_on_release|release_agent`),
	},
	{
		name:     "engine_socket",
		detail:   "reaches for the container engine socket",
		severity: "critical",
		re:       regexp.MustCompile(`/var/run/docker|docker\.sock|/run/containerd`),
	},
	{
		name:     "metadata_service",
		detail:   "targets the cloud metadata endpoint",
		severity: "high",
		re:       regexp.MustCompile(`169\.254\.169\.254|metadata\.google|metadata\.aws`),
	},
	{
		name:     "reverse_shell",
		detail:   "reverse shell construction",
		severity: "critical",
		re:       regexp.MustCompile(`(?i)(nc|ncat|netcat|socat)\s+.*-[elp]|/dev/tcp/|bash\s+-i\s+>&`),
	},
	{
		name:     "ptrace",
		detail:   "ptrace-based inspection or injection",
		severity: "critical",
		re:       regexp.MustCompile(`(?i)(ptrace|process_vm_readv|process_vm_writev)`),
	},
	{
		name:     "host_passwd",
		detail:   "reads host account databases",
		severity: "medium",
		re:       regexp.MustCompile(`/etc/(passwd|shadow|sudoers)`),
	},
	{
		name:     "crypto_miner",
		detail:   "cryptocurrency mining strings",
		severity: "medium",
		re:       regexp.MustCompile(`(?i)(stratum\+tcp|xmrig|minerd|cryptonight)`),
	},
}

var outputMarkers = []struct {
	name     string
	substr   string
	severity string
}{
	{"root_entry_leak", "root:x:0:0", "critical"},
	{"engine_socket_leak", "docker.sock", "critical"},
	{"kernel_version_leak", "Linux version", "high"},
}
