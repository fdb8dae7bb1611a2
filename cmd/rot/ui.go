package main

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"rotation/internal/charts"
	cl "rotation/internal/cli"
	"rotation/internal/game"

	"github.com/fatih/color"
)

var (
	stdinReader = bufio.NewReader(os.Stdin)
	accent      = color.New(color.FgCyan, color.Bold)
	success     = color.New(color.FgGreen, color.Bold)
	warn        = color.New(color.FgYellow, color.Bold)
	danger      = color.New(color.FgRed, color.Bold)
	neutral     = color.New(color.FgHiWhite)
)

func printSuccess(msg string) {
	success.Println(msg)
}

func printWarn(msg string) {
	warn.Println(msg)
}

func printError(msg string) {
	danger.Println(msg)
}

func printInfo(msg string) {
	neutral.Println(msg)
}

func promptOptional(label string) (string, error) {
	fmt.Printf("%s: ", label)
	text, err := stdinReader.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(text), nil
}

func renderStatus(st game.TurnStatus) {
	accent.Printf("\n== TURN %d ==\n", st.CurrentTurn)
	fmt.Printf("%-16s %s\n", "started", st.TurnStartedAt.Local().Format(time.RFC1123))
	fmt.Printf("%-16s %s\n", "length", st.TurnDuration)
	fmt.Printf("%-16s %s\n", "next boundary", st.NextTurnAt.Local().Format(time.RFC1123))
	if st.RemainingMs > 0 {
		fmt.Printf("%-16s %s\n", "remaining", st.TimeRemaining)
	} else {
		fmt.Printf("%-16s %s\n", "remaining", warn.Sprint("due now"))
	}
	if st.Claimed {
		fmt.Printf("%-16s %s\n", "pass", accent.Sprint("in progress"))
	}
	fmt.Println()
}

func renderAdvance(out cl.AdvanceResult) {
	switch out.Status {
	case "advanced":
		printSuccess(fmt.Sprintf("Advanced to turn %d.", out.NewTurn))
	case "not_due":
		printInfo(fmt.Sprintf("Not due yet, %s remaining.", out.TimeRemaining))
	case "already_processing":
		printWarn("Another caller is processing this turn.")
	case "error":
		printError("Advance failed: " + out.Detail)
	default:
		printInfo("Status: " + out.Status)
	}
}

func renderChartList(specs []charts.Spec) {
	accent.Println("\n== CHARTS ==")
	fmt.Printf("%-22s %-8s %-10s %5s\n", "TYPE", "SUBJECT", "METRIC", "CAP")
	for _, s := range specs {
		fmt.Printf("%-22s %-8s %-10s %5d\n", truncate(s.Type, 22), s.Subject, s.Metric, s.Cap)
	}
	fmt.Println()
}

func renderChart(page cl.ChartPage) {
	accent.Printf("\n== %s TURN %d ==\n", strings.ToUpper(page.Chart.Type), page.TurnNumber)
	if len(page.Rows) == 0 {
		printInfo("No rows.")
		return
	}
	fmt.Printf("%-5s %-12s %16s\n", "POS", strings.ToUpper(string(page.Chart.Subject)), strings.ToUpper(string(page.Chart.Metric)))
	for _, row := range page.Rows {
		fmt.Printf("%-5d %-12d %16s\n", row.Position, row.SubjectID, comma(row.MetricValue))
	}
	fmt.Println()
}

func renderMovement(page cl.MovementPage) {
	accent.Printf("\n== %s TURN %d vs %d ==\n", strings.ToUpper(page.Chart.Type), page.TurnNumber, page.PreviousTurn)
	if len(page.Rows) == 0 {
		printInfo("No rows.")
		return
	}
	fmt.Printf("%-5s %-6s %-12s %16s\n", "POS", "MOVE", strings.ToUpper(string(page.Chart.Subject)), strings.ToUpper(string(page.Chart.Metric)))
	for _, row := range page.Rows {
		fmt.Printf("%-5d %-6s %-12d %16s\n", row.Position, colorizeMove(row), row.SubjectID, comma(row.MetricValue))
	}
	fmt.Println()
}

func colorizeMove(row charts.MovementRow) string {
	switch {
	case row.IsNew:
		return accent.Sprint("NEW")
	case row.Change > 0:
		return success.Sprint("+" + strconv.Itoa(row.Change))
	case row.Change < 0:
		return danger.Sprint(strconv.Itoa(row.Change))
	default:
		return neutral.Sprint("=")
	}
}

func comma(v int64) string {
	s := strconv.FormatInt(v, 10)
	if len(s) <= 3 {
		return s
	}
	var b strings.Builder
	pre := len(s) % 3
	if pre > 0 {
		b.WriteString(s[:pre])
		if len(s) > pre {
			b.WriteByte(',')
		}
	}
	for i := pre; i < len(s); i += 3 {
		b.WriteString(s[i : i+3])
		if i+3 < len(s) {
			b.WriteByte(',')
		}
	}
	return b.String()
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if n <= 0 || len(s) <= n {
		return s
	}
	if n <= 3 {
		return s[:n]
	}
	return s[:n-3] + "..."
}
