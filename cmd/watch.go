package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/example/ai-radar/internal/handlers"
	"github.com/example/ai-radar/internal/pipeline"
)

var (
	watchURL      string
	watchToken    string
	watchInterval time.Duration
)

var (
	cardStyle = lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("63")).
			Padding(0, 2).
			Width(44)
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("229"))
	errorStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("203"))
	hintStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Show the live status in the terminal; t taps, r runs, q quits",
	RunE: func(cmd *cobra.Command, args []string) error {
		token := watchToken
		if token == "" {
			return fmt.Errorf("--token is required")
		}
		client := &apiClient{
			baseURL: strings.TrimRight(watchURL, "/"),
			token:   token,
			http:    &http.Client{Timeout: 5 * time.Second},
		}
		p := tea.NewProgram(newWatchModel(client, watchInterval), tea.WithContext(cmd.Context()))
		_, err := p.Run()
		return err
	},
}

func init() {
	watchCmd.Flags().StringVar(&watchURL, "url", "http://localhost:8080", "AI Radar API base URL")
	watchCmd.Flags().StringVar(&watchToken, "token", "", "API bearer token")
	watchCmd.Flags().DurationVar(&watchInterval, "interval", 500*time.Millisecond, "status poll interval")
	rootCmd.AddCommand(watchCmd)
}

type apiClient struct {
	baseURL string
	token   string
	http    *http.Client
}

func (c *apiClient) do(ctx context.Context, method, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		var body struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&body)
		if body.Error == "" {
			body.Error = http.StatusText(resp.StatusCode)
		}
		return fmt.Errorf("%s %s: %d %s", method, path, resp.StatusCode, body.Error)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *apiClient) status(ctx context.Context) (handlers.StatusResponse, error) {
	var out handlers.StatusResponse
	err := c.do(ctx, http.MethodGet, "/v1/status", &out)
	return out, err
}

type tickMsg time.Time

type statusMsg handlers.StatusResponse

type fetchErrMsg struct{ err error }

type actionMsg struct {
	action string
	err    error
}

type watchModel struct {
	client   *apiClient
	interval time.Duration
	spinner  spinner.Model
	status   handlers.StatusResponse
	loaded   bool
	err      error
	message  string
}

func newWatchModel(client *apiClient, interval time.Duration) watchModel {
	s := spinner.New()
	s.Spinner = spinner.Dot
	return watchModel{client: client, interval: interval, spinner: s}
}

func (m watchModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.fetch(), m.tick())
}

func (m watchModel) tick() tea.Cmd {
	return tea.Tick(m.interval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m watchModel) fetch() tea.Cmd {
	return func() tea.Msg {
		st, err := m.client.status(context.Background())
		if err != nil {
			return fetchErrMsg{err: err}
		}
		return statusMsg(st)
	}
}

func (m watchModel) post(action, path string) tea.Cmd {
	return func() tea.Msg {
		return actionMsg{action: action, err: m.client.do(context.Background(), http.MethodPost, path, nil)}
	}
}

func (m watchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		case "t", "enter":
			return m, m.post("tap", "/v1/status/tap")
		case "r":
			return m, m.post("run", "/v1/runs")
		}
	case tickMsg:
		return m, tea.Batch(m.fetch(), m.tick())
	case statusMsg:
		m.status = handlers.StatusResponse(msg)
		m.loaded = true
		m.err = nil
	case fetchErrMsg:
		m.err = msg.err
	case actionMsg:
		if msg.err != nil {
			m.message = msg.err.Error()
		} else {
			m.message = msg.action + " accepted"
		}
		return m, m.fetch()
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m watchModel) View() string {
	var b strings.Builder
	switch {
	case m.err != nil:
		b.WriteString(errorStyle.Render("unreachable: " + m.err.Error()))
	case !m.loaded:
		b.WriteString(m.spinner.View() + " connecting...")
	default:
		title := titleStyle.Render(m.status.Title)
		if m.status.State != pipeline.Idle.String() {
			title = m.spinner.View() + " " + title
		}
		b.WriteString(title + "\n" + m.status.Body + "\n\n")
		grant := "no grant"
		if m.status.Grant {
			grant = "grant held"
		}
		b.WriteString(hintStyle.Render(fmt.Sprintf("state %s · %s · v%d", m.status.State, grant, m.status.Version)))
	}
	if m.message != "" {
		b.WriteString("\n" + hintStyle.Render(m.message))
	}
	return cardStyle.Render(b.String()) + "\n" + hintStyle.Render("t tap · r run · q quit") + "\n"
}
