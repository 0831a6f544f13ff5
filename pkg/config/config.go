// Package config loads, validates, and atomically publishes the RAG
// service's runtime Snapshot (spec.md §6.2), from a JSON/YAML file, from
// RAGSERVE_-prefixed environment variables, or from built-in defaults.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Loader 配置加载器接口
type Loader interface {
	Load(target interface{}) error
}

// FileLoader 文件配置加载器, 根据扩展名在 json/yaml 间选择解码器
type FileLoader struct {
	FilePath string
	Format   string // json, yaml, yml
}

// NewFileLoader 创建文件配置加载器
func NewFileLoader(filePath string) *FileLoader {
	format := strings.ToLower(filepath.Ext(filePath))
	if format != "" {
		format = format[1:]
	}
	return &FileLoader{FilePath: filePath, Format: format}
}

// Load 从文件加载配置；文件不存在时保持 target 不变，不报错
func (fl *FileLoader) Load(target interface{}) error {
	if _, err := os.Stat(fl.FilePath); os.IsNotExist(err) {
		return nil
	}

	data, err := os.ReadFile(fl.FilePath)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", fl.FilePath, err)
	}

	switch fl.Format {
	case "json", "":
		return json.Unmarshal(data, target)
	case "yaml", "yml":
		return yaml.Unmarshal(data, target)
	default:
		return fmt.Errorf("unsupported config format: %s", fl.Format)
	}
}

// Save 以文件的格式写回配置
func (fl *FileLoader) Save(value interface{}) error {
	var data []byte
	var err error

	switch fl.Format {
	case "yaml", "yml":
		data, err = yaml.Marshal(value)
	default:
		data, err = json.MarshalIndent(value, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	tmp := fl.FilePath + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file %s: %w", tmp, err)
	}
	return os.Rename(tmp, fl.FilePath)
}

// EnvLoader 环境变量配置加载器，凡对应环境变量非空的字段都会被覆盖（不论 target 中原值是否为零值）
type EnvLoader struct {
	Prefix string
}

// NewEnvLoader 创建环境变量配置加载器
func NewEnvLoader(prefix string) *EnvLoader {
	return &EnvLoader{Prefix: prefix}
}

// Load 从环境变量加载配置
func (el *EnvLoader) Load(target interface{}) error {
	return loadFromEnv(target, el.Prefix)
}

func loadFromEnv(target interface{}, prefix string) error {
	v := reflect.ValueOf(target)
	if v.Kind() != reflect.Ptr || v.Elem().Kind() != reflect.Struct {
		return fmt.Errorf("target must be a pointer to struct")
	}

	v = v.Elem()
	t := v.Type()

	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		fieldType := t.Field(i)

		if !field.CanSet() {
			continue
		}

		envKey := getEnvKey(fieldType, prefix)
		if envKey == "" {
			continue
		}

		envValue := os.Getenv(envKey)
		if envValue == "" {
			continue
		}

		if err := setFieldValue(field, envValue); err != nil {
			return fmt.Errorf("failed to set field %s from env %s: %w", fieldType.Name, envKey, err)
		}
	}

	return nil
}

func getEnvKey(field reflect.StructField, prefix string) string {
	if envTag := field.Tag.Get("env"); envTag != "" {
		if prefix != "" {
			return prefix + "_" + envTag
		}
		return envTag
	}

	if jsonTag := field.Tag.Get("json"); jsonTag != "" {
		parts := strings.Split(jsonTag, ",")
		if parts[0] != "" && parts[0] != "-" {
			key := strings.ToUpper(parts[0])
			if prefix != "" {
				return prefix + "_" + key
			}
			return key
		}
	}

	key := strings.ToUpper(field.Name)
	if prefix != "" {
		return prefix + "_" + key
	}
	return key
}

func setFieldValue(field reflect.Value, value string) error {
	switch field.Kind() {
	case reflect.String:
		field.SetString(value)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if field.Type() == reflect.TypeOf(time.Duration(0)) {
			duration, err := time.ParseDuration(value)
			if err != nil {
				return err
			}
			field.SetInt(int64(duration))
		} else {
			intVal, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return err
			}
			field.SetInt(intVal)
		}
	case reflect.Float32, reflect.Float64:
		floatVal, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		field.SetFloat(floatVal)
	case reflect.Bool:
		boolVal, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(boolVal)
	default:
		return fmt.Errorf("unsupported field type: %s", field.Kind())
	}

	return nil
}
