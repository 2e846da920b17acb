package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-enry/go-enry/v2"
	"github.com/spf13/cobra"
)

var (
	serverURL   string
	language    string
	command     string
	httpTimeout time.Duration
)

func main() {
	root := &cobra.Command{
		Use:   "sandbox-cli",
		Short: "CLI client for untrusted-code-sandbox",
	}

	root.PersistentFlags().StringVar(&serverURL, "server", "http://localhost:8080", "Server URL")
	root.PersistentFlags().DurationVar(&httpTimeout, "timeout", 60*time.Second, "Client-side HTTP timeout")

	// Run a single file (direct mode)
	runCmd := &cobra.Command{
		Use:   "run [file]",
		Short: "Run a single source file on the host interpreter",
		Long:  "Submits one file for direct execution. With no argument, code is read from stdin.",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runDirect,
	}
	runCmd.Flags().StringVarP(&language, "language", "l", "", "Language (auto-detected from the file when omitted)")
	root.AddCommand(runCmd)

	// Run a directory (project mode)
	projectCmd := &cobra.Command{
		Use:   "run-project [dir]",
		Short: "Run a directory as a project inside a container",
		Args:  cobra.ExactArgs(1),
		RunE:  runProject,
	}
	projectCmd.Flags().StringVarP(&language, "language", "l", "", "Language (auto-detected from the entry file when omitted)")
	projectCmd.Flags().StringVarP(&command, "command", "c", "", "Command to run inside the container (default per language)")
	root.AddCommand(projectCmd)

	// Health check
	root.AddCommand(&cobra.Command{
		Use:   "health",
		Short: "Check server health",
		RunE:  runHealth,
	})

	// List executions
	root.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List recent executions",
		RunE:  runList,
	})

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func runDirect(cmd *cobra.Command, args []string) error {
	var code, filename string

	if len(args) > 0 {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("reading file: %w", err)
		}
		code = string(data)
		filename = filepath.Base(args[0])
	} else {
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return fmt.Errorf("reading stdin: %w", err)
		}
		code = string(data)
	}

	lang := language
	if lang == "" {
		lang = detectLanguage(filename, code)
		if lang != "" {
			fmt.Fprintf(os.Stderr, "detected language: %s\n", lang)
		}
	}

	return postJSON("/execute", map[string]any{
		"code":     code,
		"language": lang,
	})
}

func runProject(cmd *cobra.Command, args []string) error {
	dir := args[0]

	var files []map[string]string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if strings.HasPrefix(d.Name(), ".") && path != dir {
				return filepath.SkipDir
			}
			return nil
		}
		data, err := os.ReadFile(path) // #nosec G304 -- walking a user-supplied dir
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		files = append(files, map[string]string{
			"path":    filepath.ToSlash(rel),
			"content": string(data),
		})
		return nil
	})
	if err != nil {
		return fmt.Errorf("walking project dir: %w", err)
	}
	if len(files) == 0 {
		return fmt.Errorf("no files found under %s", dir)
	}

	lang := language
	if lang == "" {
		lang = detectProjectLanguage(files)
		if lang != "" {
			fmt.Fprintf(os.Stderr, "detected language: %s\n", lang)
		}
	}

	payload := map[string]any{
		"files":    files,
		"language": lang,
	}
	if command != "" {
		payload["command"] = command
	}

	return postJSON("/execute/project", payload)
}

// detectLanguage maps an enry detection onto the service's language names.
// Anything it cannot place is left empty; the server then applies its own
// default-to-JavaScript policy.
func detectLanguage(filename, code string) string {
	lang := enry.GetLanguage(filename, []byte(code))
	if lang == "" && filename != "" {
		if byExt, safe := enry.GetLanguageByExtension(filename); safe {
			lang = byExt
		}
	}

	switch lang {
	case "Python":
		return "python"
	case "JavaScript", "TypeScript":
		return "javascript"
	default:
		return ""
	}
}

// detectProjectLanguage detects from the conventional entry file first and
// falls back to the first file that yields a recognized language.
func detectProjectLanguage(files []map[string]string) string {
	for _, f := range files {
		base := filepath.Base(f["path"])
		if base == "main.py" {
			return "python"
		}
		if base == "main.js" {
			return "javascript"
		}
	}
	for _, f := range files {
		if lang := detectLanguage(filepath.Base(f["path"]), f["content"]); lang != "" {
			return lang
		}
	}
	return ""
}

func postJSON(path string, payload map[string]any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encoding request: %w", err)
	}

	req, err := http.NewRequest(http.MethodPost, serverURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	client := &http.Client{Timeout: httpTimeout}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	var result map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}

	formatted, _ := json.MarshalIndent(result, "", "  ")
	fmt.Println(string(formatted))

	// Mirror the sandbox outcome in the CLI exit status.
	if timedOut, ok := result["timedOut"].(bool); ok && timedOut {
		os.Exit(124)
	}
	if exitCode, ok := result["exitCode"].(float64); ok && exitCode != 0 {
		os.Exit(int(exitCode))
	}

	return nil
}

func runHealth(_ *cobra.Command, _ []string) error {
	return getJSON("/health")
}

func runList(_ *cobra.Command, _ []string) error {
	return getJSON("/executions")
}

func getJSON(path string) error {
	client := &http.Client{Timeout: httpTimeout}
	resp, err := client.Get(serverURL + path)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	var result any
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	formatted, _ := json.MarshalIndent(result, "", "  ")
	fmt.Println(string(formatted))
	return nil
}
