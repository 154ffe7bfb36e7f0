package output

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/xeipuuv/gojsonschema"
	"gopkg.in/yaml.v3"

	"github.com/rubot/rubot/internal/config"
	"github.com/rubot/rubot/internal/logging"
)

//go:embed analysis.schema.json
var analysisSchema string

var schemaLoader = gojsonschema.NewStringLoader(analysisSchema)

// Meta 是写入 Analysis 的运行元数据。
type Meta struct {
	SourceDate string
	Model      string
	Processed  time.Time
}

// Rendered 是渲染结果，Structured=false 表示内容不是 JSON 对象而按文本输出。
type Rendered struct {
	Body       []byte
	Structured bool
	Warnings   []string
}

// Writer 根据输出配置渲染并写出结果。
type Writer struct {
	Format   string
	Indent   int
	Envelope bool
	Stdout   io.Writer
	Logger   *logrus.Logger
}

// NewWriter 从配置构造 Writer，stdout 为目标路径为空时的输出。
func NewWriter(cfg config.OutputConfig, stdout io.Writer, logger *logrus.Logger) *Writer {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Writer{Format: cfg.Format, Indent: cfg.Indent, Envelope: cfg.Envelope, Stdout: stdout, Logger: logger}
}

// Render 解析补全内容并渲染。内容是 JSON 对象时做 schema 校验（仅告警），否则原样输出文本。
func (w *Writer) Render(content string, meta Meta) (*Rendered, error) {
	body := stripCodeFence(content)

	var object map[string]any
	if err := json.Unmarshal([]byte(body), &object); err != nil || object == nil {
		w.Logger.WithField("chars", len([]rune(content))).Warn("output_not_json")
		return &Rendered{
			Body:     []byte(ensureTrailingNewline(content)),
			Warnings: []string{"content is not a JSON object, written as text"},
		}, nil
	}

	warnings, err := ValidateSchema(body)
	if err != nil {
		return nil, err
	}
	for _, warning := range warnings {
		w.Logger.WithField("violation", warning).Warn("output_schema_violation")
	}

	var value any = object
	if w.Envelope {
		var analysis Analysis
		if err := json.Unmarshal([]byte(body), &analysis); err != nil {
			// 字段类型与模型不符时保留原始对象
			warnings = append(warnings, "content does not match the analysis model: "+err.Error())
			w.Logger.WithField("error", err.Error()).Warn("output_envelope_skipped")
		} else {
			analysis.normalize()
			processed := meta.Processed
			if processed.IsZero() {
				processed = time.Now()
			}
			analysis.ProcessingDate = processed.Format(time.RFC3339)
			analysis.SourceDate = meta.SourceDate
			analysis.ModelUsed = meta.Model
			value = analysis
		}
	}

	encoded, err := w.encode(value)
	if err != nil {
		return nil, err
	}
	return &Rendered{Body: encoded, Structured: true, Warnings: warnings}, nil
}

func (w *Writer) encode(value any) ([]byte, error) {
	var buf bytes.Buffer
	switch w.Format {
	case "yaml":
		enc := yaml.NewEncoder(&buf)
		indent := w.Indent
		if indent <= 0 {
			indent = 2
		}
		enc.SetIndent(indent)
		if err := enc.Encode(value); err != nil {
			return nil, fmt.Errorf("encode yaml: %w", err)
		}
		if err := enc.Close(); err != nil {
			return nil, fmt.Errorf("encode yaml: %w", err)
		}
	case "json", "":
		enc := json.NewEncoder(&buf)
		enc.SetEscapeHTML(false)
		if w.Indent > 0 {
			enc.SetIndent("", strings.Repeat(" ", w.Indent))
		}
		if err := enc.Encode(value); err != nil {
			return nil, fmt.Errorf("encode json: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported output format: %s", w.Format)
	}
	return buf.Bytes(), nil
}

// Write 将渲染结果写到 path；path 为空时写到 Stdout。文件写入经临时文件 + rename。
func (w *Writer) Write(rendered *Rendered, path string) error {
	if rendered == nil {
		return errors.New("nothing to write")
	}
	if path == "" {
		_, err := w.Stdout.Write(rendered.Body)
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".rubot-output-*")
	if err != nil {
		return fmt.Errorf("create output file: %w", err)
	}
	if _, err := tmp.Write(rendered.Body); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write output file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("close output file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("rename output file: %w", err)
	}
	w.Logger.WithFields(logrus.Fields{"path": path, "bytes": len(rendered.Body), "structured": rendered.Structured}).Info("output_written")
	return nil
}

// ValidateSchema 返回内容相对分析 schema 的违规描述；内容本身无法解析时返回错误。
func ValidateSchema(content string) ([]string, error) {
	result, err := gojsonschema.Validate(schemaLoader, gojsonschema.NewStringLoader(content))
	if err != nil {
		return nil, fmt.Errorf("schema validation failed: %w", err)
	}
	if result.Valid() {
		return nil, nil
	}
	violations := make([]string, 0, len(result.Errors()))
	for _, desc := range result.Errors() {
		violations = append(violations, desc.String())
	}
	return violations, nil
}

// stripCodeFence 去掉模型常见的 ```json 代码块包裹。
func stripCodeFence(content string) string {
	trimmed := strings.TrimSpace(content)
	if !strings.HasPrefix(trimmed, "```") {
		return trimmed
	}
	trimmed = strings.TrimPrefix(trimmed, "```")
	if idx := strings.IndexByte(trimmed, '\n'); idx >= 0 {
		trimmed = trimmed[idx+1:]
	}
	trimmed = strings.TrimSuffix(strings.TrimSpace(trimmed), "```")
	return strings.TrimSpace(trimmed)
}

func ensureTrailingNewline(s string) string {
	if strings.HasSuffix(s, "\n") {
		return s
	}
	return s + "\n"
}
