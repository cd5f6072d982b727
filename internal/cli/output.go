package cli

import (
	"fmt"
	"strings"

	"github.com/finledger/reconcile/internal/application/recon"
	"github.com/finledger/reconcile/internal/staging"
)

// PrintHeader prints the tool header with the run mode.
func PrintHeader(mode recon.Mode) {
	label := "DRY-RUN"
	if mode == recon.ModeApply {
		label = "APPLY"
	}
	fmt.Printf("reconcile (%s mode)\n", label)
}

// PrintResult prints the full run report.
func PrintResult(res *recon.Result) {
	fmt.Println(strings.Repeat("-", 60))
	fmt.Print(recon.Render(res))
}

// PrintImportResult prints a staging import summary.
func PrintImportResult(file string, res *staging.ImportResult) {
	fmt.Printf("%s: parsed=%d inserted=%d duplicates=%d invalid=%d\n",
		file, res.Parsed, res.Inserted, res.SkippedDuplicate, res.SkippedInvalid)
}
