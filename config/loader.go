package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultEnvPrefix 环境变量前缀.
const DefaultEnvPrefix = "INKFLOW"

// Loader 依次叠加默认值, YAML 文件和环境变量:
//
//	cfg, err := config.NewLoader().WithConfigPath("config.yaml").Load()
type Loader struct {
	path       string
	prefix     string
	validators []func(*Config) error
}

func NewLoader() *Loader {
	return &Loader{prefix: DefaultEnvPrefix}
}

// WithConfigPath 文件不存在时只使用默认值和环境变量.
func (l *Loader) WithConfigPath(path string) *Loader {
	l.path = path
	return l
}

func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.prefix = prefix
	return l
}

// WithValidator 在合并完成后按注册顺序执行, 第一个错误即返回.
func (l *Loader) WithValidator(v func(*Config) error) *Loader {
	l.validators = append(l.validators, v)
	return l
}

func (l *Loader) Load() (*Config, error) {
	cfg := DefaultConfig()

	if l.path != "" {
		data, err := os.ReadFile(l.path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("read %s: %w", l.path, err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse %s: %w", l.path, err)
			}
		}
	}

	if err := applyEnv(reflect.ValueOf(cfg).Elem(), l.prefix); err != nil {
		return nil, err
	}

	for _, v := range l.validators {
		if err := v(cfg); err != nil {
			return nil, fmt.Errorf("config invalid: %w", err)
		}
	}
	return cfg, nil
}

var durationType = reflect.TypeOf(time.Duration(0))

// applyEnv 按 env 标签递归覆盖字段, 空值视为未设置.
func applyEnv(v reflect.Value, prefix string) error {
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		tag := t.Field(i).Tag.Get("env")
		if tag == "" || tag == "-" {
			continue
		}
		key := prefix + "_" + tag
		field := v.Field(i)

		if field.Kind() == reflect.Struct {
			if err := applyEnv(field, key); err != nil {
				return err
			}
			continue
		}
		raw, ok := os.LookupEnv(key)
		if !ok || raw == "" || !field.CanSet() {
			continue
		}
		if err := setFromString(field, raw); err != nil {
			return fmt.Errorf("env %s=%q: %w", key, raw, err)
		}
	}
	return nil
}

func setFromString(field reflect.Value, raw string) error {
	if field.Type() == durationType {
		d, err := time.ParseDuration(raw)
		if err != nil {
			return err
		}
		field.SetInt(int64(d))
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(raw)
	case reflect.Bool:
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return err
		}
		field.SetBool(b)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n, err := strconv.ParseInt(raw, 10, field.Type().Bits())
		if err != nil {
			return err
		}
		field.SetInt(n)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		n, err := strconv.ParseUint(raw, 10, field.Type().Bits())
		if err != nil {
			return err
		}
		field.SetUint(n)
	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(raw, field.Type().Bits())
		if err != nil {
			return err
		}
		field.SetFloat(f)
	case reflect.Slice:
		if field.Type().Elem().Kind() != reflect.String {
			return fmt.Errorf("unsupported slice type %s", field.Type())
		}
		// 逗号分隔, 丢弃空项
		var items []string
		for _, s := range strings.Split(raw, ",") {
			if s = strings.TrimSpace(s); s != "" {
				items = append(items, s)
			}
		}
		field.Set(reflect.ValueOf(items))
	default:
		return fmt.Errorf("unsupported kind %s", field.Kind())
	}
	return nil
}

// Validate 收集所有问题后一次返回.
func (c *Config) Validate() error {
	var problems []string
	add := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	if p := c.Server.HTTPPort; p <= 0 || p > 65535 {
		add("server.http_port %d out of range", p)
	}
	if p := c.Server.MetricsPort; p < 0 || p > 65535 {
		add("server.metrics_port %d out of range", p)
	}
	if (c.Server.TLSCertFile == "") != (c.Server.TLSKeyFile == "") {
		add("server.tls_cert_file and server.tls_key_file must be set together")
	}

	switch c.Database.Driver {
	case "postgres", "mysql", "sqlite":
	default:
		add("unsupported database.driver %q", c.Database.Driver)
	}

	g := c.Generation
	if g.MaxConcurrency <= 0 {
		add("generation.max_concurrency must be positive")
	}
	if g.TaskStore != "memory" && g.TaskStore != "redis" {
		add("unknown generation.task_store %q", g.TaskStore)
	}
	if g.Selection != "" && g.Selection != "first" && g.Selection != "last" {
		add("generation.selection must be first or last, got %q", g.Selection)
	}
	if g.ProvidersFile == "" {
		add("generation.providers_file is required")
	}

	if r := c.Telemetry.SampleRate; r < 0 || r > 1 {
		add("telemetry.sample_rate %v not in [0,1]", r)
	}

	if len(problems) > 0 {
		return fmt.Errorf("config validation errors: %s", strings.Join(problems, "; "))
	}
	return nil
}
