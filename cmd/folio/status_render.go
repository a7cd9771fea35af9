package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/mattn/go-isatty"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"folio/internal/ipc"
	"folio/internal/preflight"
)

type statusKind int

const (
	statusInfo statusKind = iota
	statusOK
	statusWarn
	statusError
)

const (
	ansiReset  = "\x1b[0m"
	ansiRed    = "\x1b[31m"
	ansiGreen  = "\x1b[32m"
	ansiYellow = "\x1b[33m"
	ansiBlue   = "\x1b[34m"
)

const (
	statusLabelWidth = 20
	statusIndent     = "  "
)

var titleCaser = cases.Title(language.Und)

func renderStatusLine(label string, kind statusKind, message string, colorize bool) string {
	statusText := fmt.Sprintf("[%s]", statusKindLabel(kind))
	if message != "" {
		statusText += " " + message
	}
	base := fmt.Sprintf("%s%-*s %s", statusIndent, statusLabelWidth, label+":", statusText)
	if colorize {
		if color := statusKindColor(kind); color != "" {
			return color + base + ansiReset
		}
	}
	return base
}

func statusKindLabel(kind statusKind) string {
	switch kind {
	case statusOK:
		return "OK"
	case statusWarn:
		return "WARN"
	case statusError:
		return "ERROR"
	default:
		return "INFO"
	}
}

func statusKindColor(kind statusKind) string {
	switch kind {
	case statusOK:
		return ansiGreen
	case statusWarn:
		return ansiYellow
	case statusError:
		return ansiRed
	case statusInfo:
		return ansiBlue
	default:
		return ""
	}
}

func renderSectionHeader(title string, colorize bool) []string {
	line := fmt.Sprintf("== %s ==", strings.TrimSpace(title))
	rule := strings.Repeat("-", len(line))
	if colorize {
		line = ansiBlue + line + ansiReset
		rule = ansiBlue + rule + ansiReset
	}
	return []string{line, rule}
}

func shouldColorize(writer io.Writer) bool {
	file, ok := writer.(*os.File)
	if !ok {
		return false
	}
	fd := file.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

// workerStateLabel renders a channel state for humans ("ready" -> "Ready").
func workerStateLabel(state string) string {
	state = strings.TrimSpace(state)
	if state == "" {
		return "Unknown"
	}
	return titleCaser.String(state)
}

func workerStateKind(state string) statusKind {
	switch state {
	case "ready":
		return statusOK
	case "initializing", "uninitialized":
		return statusInfo
	case "terminated":
		return statusWarn
	default:
		return statusError
	}
}

func daemonLines(status *ipc.StatusResponse, colorize bool) []string {
	if status == nil || !status.Running {
		return []string{renderStatusLine("Daemon", statusError, "Not running", colorize)}
	}
	lines := []string{
		renderStatusLine("Daemon", statusOK, fmt.Sprintf("Running (pid %d)", status.PID), colorize),
		renderStatusLine("Session", statusInfo, status.SessionID, colorize),
		renderStatusLine("API", statusInfo, status.APIAddr, colorize),
		renderStatusLine("Worker", workerStateKind(status.WorkerState),
			fmt.Sprintf("%s (spawns: %d, in flight: %d)", workerStateLabel(status.WorkerState), status.WorkerSpawns, status.TasksInFlight), colorize),
	}
	modules := "none"
	if len(status.LoadedModules) > 0 {
		modules = strings.Join(status.LoadedModules, ", ")
	}
	lines = append(lines, renderStatusLine("Modules", statusInfo, modules, colorize))
	cacheKind := statusWarn
	cacheDetail := "Not controlling (requests pass through)"
	if status.CacheControlling {
		cacheKind = statusOK
		cacheDetail = "Controlling " + status.StaticGeneration + " / " + status.DynamicGeneration
	}
	lines = append(lines, renderStatusLine("Cache", cacheKind, cacheDetail, colorize))
	return lines
}

func preflightLines(results []preflight.Result, colorize bool) []string {
	lines := make([]string, 0, len(results))
	for _, result := range results {
		kind := statusOK
		if !result.Passed {
			kind = statusError
		}
		lines = append(lines, renderStatusLine(result.Name, kind, result.Detail, colorize))
	}
	return lines
}

func dependencyLines(deps []ipc.DependencyStatus, colorize bool) []string {
	lines := make([]string, 0, len(deps))
	for _, dep := range deps {
		switch {
		case dep.Available:
			lines = append(lines, renderStatusLine(dep.Name, statusOK, "Ready (command: "+dep.Command+")", colorize))
		case dep.Optional:
			lines = append(lines, renderStatusLine(dep.Name, statusWarn, dep.Detail, colorize))
		default:
			lines = append(lines, renderStatusLine(dep.Name, statusError, dep.Detail, colorize))
		}
	}
	return lines
}

func generationRows(gens []ipc.Generation) [][]string {
	rows := make([][]string, 0, len(gens))
	for _, g := range gens {
		rows = append(rows, []string{
			g.Name,
			fmt.Sprintf("%d", g.Entries),
			humanBytes(g.Bytes),
			g.CreatedAt.Local().Format("2006-01-02 15:04"),
			yesNo(g.Current),
		})
	}
	return rows
}

func renderGenerations(gens []ipc.Generation) string {
	if len(gens) == 0 {
		return "No cache generations\n"
	}
	return renderTable(
		[]string{"Generation", "Entries", "Size", "Created", "Current"},
		generationRows(gens),
		[]columnAlignment{alignLeft, alignRight, alignRight, alignLeft, alignLeft},
	)
}
