package policy

import (
	"fmt"
	"io/fs"
	"strings"
)

// IsolationLevel is a named strictness tier for a sandbox.
type IsolationLevel string

const (
	IsolationMinimal  IsolationLevel = "minimal"
	IsolationStandard IsolationLevel = "standard"
	IsolationStrict   IsolationLevel = "strict"
	IsolationMaximum  IsolationLevel = "maximum"
)

// Levels lists the isolation levels from loosest to strictest.
var Levels = []IsolationLevel{IsolationMinimal, IsolationStandard, IsolationStrict, IsolationMaximum}

// ParseIsolationLevel parses a level name (case-insensitive).
func ParseIsolationLevel(s string) (IsolationLevel, error) {
	level := IsolationLevel(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := levelTable[level]; !ok {
		return "", fmt.Errorf("invalid isolation level: %q (must be minimal, standard, strict, or maximum)", s)
	}
	return level, nil
}

// Valid reports whether l is a known isolation level.
func (l IsolationLevel) Valid() bool {
	_, ok := levelTable[l]
	return ok
}

func (l IsolationLevel) String() string {
	return string(l)
}

// Traits is everything an isolation level decides. It is the single
// lookup consulted by provisioning and security materialization.
type Traits struct {
	DirMode          fs.FileMode
	OwnerOnly        bool
	NetworkIsolation bool
	Encryption       bool
	AuditAll         bool

	MaxProcesses    int
	MaxThreads      int
	MaxOpenFiles    int
	Priority        int // nice value
	CPUQuotaPercent int

	BlockPtrace        bool
	BlockMount         bool
	BlockKernelModules bool
}

var levelTable = map[IsolationLevel]Traits{
	IsolationMinimal: {
		DirMode:            0o755,
		MaxProcesses:       256,
		MaxThreads:         1024,
		MaxOpenFiles:       4096,
		Priority:           0,
		CPUQuotaPercent:    100,
		BlockKernelModules: true,
	},
	IsolationStandard: {
		DirMode:            0o750,
		MaxProcesses:       128,
		MaxThreads:         512,
		MaxOpenFiles:       2048,
		Priority:           5,
		CPUQuotaPercent:    75,
		BlockPtrace:        true,
		BlockKernelModules: true,
	},
	IsolationStrict: {
		DirMode:            0o700,
		OwnerOnly:          true,
		NetworkIsolation:   true,
		MaxProcesses:       64,
		MaxThreads:         256,
		MaxOpenFiles:       1024,
		Priority:           10,
		CPUQuotaPercent:    50,
		BlockPtrace:        true,
		BlockMount:         true,
		BlockKernelModules: true,
	},
	IsolationMaximum: {
		DirMode:            0o700,
		OwnerOnly:          true,
		NetworkIsolation:   true,
		Encryption:         true,
		AuditAll:           true,
		MaxProcesses:       32,
		MaxThreads:         128,
		MaxOpenFiles:       512,
		Priority:           19,
		CPUQuotaPercent:    25,
		BlockPtrace:        true,
		BlockMount:         true,
		BlockKernelModules: true,
	},
}

// TraitsFor returns the traits of a level. Unknown levels get the
// strictest traits.
func TraitsFor(level IsolationLevel) Traits {
	if t, ok := levelTable[level]; ok {
		return t
	}
	return levelTable[IsolationMaximum]
}
