package config

import (
	"os"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"
)

// EnvRoot 未通过参数或配置文件指定时使用的根目录环境变量
const EnvRoot = "TREESENTRY_ROOT"

// Config 运行参数
//
// 优先级：命令行参数 > 配置文件 > 环境变量 > 默认值
type Config struct {
	// Root 被递归监控的目录
	Root string `yaml:"root"`
	// PollTimeout 单次等待的上限，也决定停止请求的响应延迟
	PollTimeout time.Duration `yaml:"poll_timeout"`
	LogLevel    string        `yaml:"log_level"`
	// Journal 事件日志数据库 (sqlite) 路径，为空则不记录
	Journal string `yaml:"journal"`
	// Sniff 对被修改的文件做文件头类型检测
	Sniff bool `yaml:"sniff"`
}

func Default() Config {
	return Config{
		Root:        ".",
		PollTimeout: time.Second,
		LogLevel:    "info",
	}
}

// Load 读取默认值、环境变量和可选的 YAML 配置文件
// path 为空时只使用默认值和环境变量；文件中缺省的字段保留原值
func Load(path string) (Config, error) {
	cfg := Default()
	if root := os.Getenv(EnvRoot); root != "" {
		cfg.Root = root
	}
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, errors.Wrap(err, "read config file")
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, errors.Wrapf(err, "parse config file %s", path)
	}
	return cfg, nil
}

func (c Config) Level() (zapcore.Level, error) {
	level, err := zapcore.ParseLevel(c.LogLevel)
	if err != nil {
		return level, errors.Wrapf(err, "invalid log level %q", c.LogLevel)
	}
	return level, nil
}

func (c Config) Validate() error {
	if c.Root == "" {
		return errors.New("root directory is required")
	}
	info, err := os.Stat(c.Root)
	if err != nil {
		return errors.Wrap(err, "root directory")
	}
	if !info.IsDir() {
		return errors.Errorf("root %s is not a directory", c.Root)
	}
	if c.PollTimeout < time.Millisecond {
		return errors.Errorf("poll_timeout must be at least 1ms, got %s", c.PollTimeout)
	}
	if _, err := c.Level(); err != nil {
		return err
	}
	return nil
}
