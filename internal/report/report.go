package report

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/signintech/gopdf"

	"intake-agent/internal/domain"
	logx "intake-agent/pkg/logger"
)

const (
	fontFamily = "DejaVu"
	textWidth  = 500.0
	pageBottom = 780.0
)

var defaultFontPaths = []string{
	"/usr/share/fonts/ttf-dejavu/DejaVuSans.ttf",
	"/usr/share/fonts/dejavu/DejaVuSans.ttf",
	"/usr/share/fonts/truetype/dejavu/DejaVuSans.ttf",
}

// Renderer turns a conversation view into a PDF transcript.
type Renderer struct {
	fontPaths []string
	now       func() time.Time
}

// NewRenderer uses fontPath when set, otherwise the common DejaVu install locations.
func NewRenderer(fontPath string) *Renderer {
	paths := defaultFontPaths
	if p := strings.TrimSpace(fontPath); p != "" {
		paths = []string{p}
	}
	return &Renderer{fontPaths: paths, now: time.Now}
}

func (r *Renderer) Render(v domain.View) ([]byte, error) {
	pdf := gopdf.GoPdf{}
	pdf.Start(gopdf.Config{PageSize: *gopdf.PageSizeA4})
	pdf.AddPage()

	if err := r.loadFont(&pdf); err != nil {
		return nil, err
	}

	w := &writer{pdf: &pdf}
	w.heading("Health Intake Transcript", 18)
	w.setSize(10)
	w.line(fmt.Sprintf("Session: %s", v.SessionID), 14)
	w.line(fmt.Sprintf("Generated: %s", r.now().UTC().Format("2006-01-02 15:04 MST")), 14)
	if v.Record.Present {
		name := v.Record.Filename
		if name == "" {
			name = "uploaded"
		}
		w.line(fmt.Sprintf("Medical records: %s", name), 14)
	}
	w.gap(12)

	w.heading("Conversation", 14)
	w.setSize(11)
	if len(v.Turns) == 0 {
		w.line("- No messages yet.", 14)
	}
	for _, t := range v.Turns {
		label := "Assistant"
		if t.Sender == domain.SenderUser {
			label = "Patient"
		}
		w.paragraph(fmt.Sprintf("%s: %s", label, t.Text))
		w.gap(6)
	}

	if len(v.Trials) > 0 {
		w.gap(10)
		w.heading("Clinical trials", 14)
		w.setSize(11)
		for _, tr := range v.Trials {
			w.paragraph(fmt.Sprintf("- %s (%s). Intervention: %s. Eligibility: %s",
				tr.Title, tr.Condition, tr.Intervention, tr.Eligibility))
			w.gap(4)
		}
	}

	if w.err != nil {
		return nil, fmt.Errorf("report: layout: %w", w.err)
	}

	var buf bytes.Buffer
	if _, err := pdf.WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("report: write pdf: %w", err)
	}
	return buf.Bytes(), nil
}

func (r *Renderer) loadFont(pdf *gopdf.GoPdf) error {
	var lastErr error
	for _, path := range r.fontPaths {
		err := pdf.AddTTFFont(fontFamily, path)
		if err == nil {
			return nil
		}
		lastErr = err
	}
	logx.Error().Err(lastErr).Strs("paths", r.fontPaths).Msg("report: no usable font")
	if lastErr == nil {
		lastErr = errors.New("no font paths configured")
	}
	return fmt.Errorf("report: load font: %w", lastErr)
}

// writer keeps the first layout error and turns later calls into no-ops.
type writer struct {
	pdf  *gopdf.GoPdf
	size float64
	err  error
}

func (w *writer) setSize(size float64) {
	if w.err != nil {
		return
	}
	w.size = size
	w.err = w.pdf.SetFont(fontFamily, "", size)
}

func (w *writer) heading(text string, size float64) {
	w.setSize(size)
	w.line(text, size+8)
}

func (w *writer) line(text string, advance float64) {
	if w.err != nil {
		return
	}
	if w.pdf.GetY()+advance > pageBottom {
		w.pdf.AddPage()
	}
	if err := w.pdf.Cell(nil, printable(text)); err != nil {
		w.err = err
		return
	}
	w.pdf.Br(advance)
}

// paragraph wraps text to the page width, keeping explicit line breaks.
func (w *writer) paragraph(text string) {
	for _, para := range strings.Split(printable(text), "\n") {
		if w.err != nil {
			return
		}
		if strings.TrimSpace(para) == "" {
			w.gap(w.size)
			continue
		}
		lines, err := w.pdf.SplitText(para, textWidth)
		if err != nil {
			lines = []string{para}
		}
		for _, l := range lines {
			w.line(l, w.size+3)
		}
	}
}

func (w *writer) gap(h float64) {
	if w.err != nil {
		return
	}
	w.pdf.Br(h)
}

// printable drops runes outside the ranges the bundled font covers.
func printable(s string) string {
	return strings.Map(func(r rune) rune {
		if r == '\n' || (r >= 0x20 && r < 0x2000) || (r >= 0x2010 && r <= 0x2027) {
			return r
		}
		if r == '\t' {
			return ' '
		}
		return -1
	}, s)
}
