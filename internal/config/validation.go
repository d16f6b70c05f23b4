package config

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/dgellow/auth-relay/internal/log"
)

var structValidator = newStructValidator()

func newStructValidator() *validator.Validate {
	v := validator.New()
	// Report json field names so messages match what users write
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return field.Name
		}
		return name
	})
	return v
}

// ValidateConfig validates the resolved configuration
func ValidateConfig(config *Config) error {
	if err := structValidator.Struct(config); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			return describeFieldError(fieldErrs[0])
		}
		return err
	}

	if strings.Contains(strings.Trim(config.AuthenticationRoutePrefix, "/"), "/") {
		return fmt.Errorf("authenticationRoutePrefix must be a single path segment")
	}
	if config.Platform == PlatformLocal && config.AuthorizationRoutePrefix == "" {
		return fmt.Errorf("authorizationRoutePrefix is required on the local platform")
	}
	if config.IdentityProviderTimeout < 0 {
		return fmt.Errorf("identityProviderTimeout cannot be negative")
	}
	if len(config.PrivateKey) < 16 {
		log.LogWarn("privateKey is shorter than 16 characters; state cookies are weakly signed")
	}

	if err := validateStorage(&config.Storage); err != nil {
		return fmt.Errorf("storage config: %w", err)
	}
	return nil
}

func describeFieldError(fe validator.FieldError) error {
	path := strings.TrimPrefix(fe.Namespace(), "Config.")
	switch fe.Tag() {
	case "required":
		return fmt.Errorf("%s is required", path)
	case "url":
		return fmt.Errorf("%s must be an absolute URL, got %q", path, fe.Value())
	case "oneof":
		return fmt.Errorf("%s must be one of [%s], got %q", path, fe.Param(), fe.Value())
	default:
		return fmt.Errorf("%s failed %q validation", path, fe.Tag())
	}
}

func validateStorage(storage *StorageConfig) error {
	if storage.TTL < 0 {
		return fmt.Errorf("ttl cannot be negative")
	}
	switch storage.Kind {
	case StorageFirestore, StorageDatastore:
		if storage.ProjectID == "" {
			return fmt.Errorf("projectId is required when using %s storage", storage.Kind)
		}
	case StorageRedis:
		if storage.RedisAddr == "" {
			return fmt.Errorf("redisAddr is required when using redis storage")
		}
	case StoragePostgres:
		if storage.PostgresDSN == "" {
			return fmt.Errorf("postgresDsn is required when using postgres storage")
		}
	}
	return nil
}

// ValidationResult holds validation errors and warnings
type ValidationResult struct {
	Errors   []ValidationError
	Warnings []ValidationError
}

// ValidationError represents a validation issue
type ValidationError struct {
	Path    string
	Message string
}

// IsValid returns true if there are no errors
func (v *ValidationResult) IsValid() bool {
	return len(v.Errors) == 0
}

func (v *ValidationResult) addError(path, format string, args ...any) {
	v.Errors = append(v.Errors, ValidationError{Path: path, Message: fmt.Sprintf(format, args...)})
}

func (v *ValidationResult) addWarning(path, format string, args ...any) {
	v.Warnings = append(v.Warnings, ValidationError{Path: path, Message: fmt.Sprintf(format, args...)})
}

// secretFields must come from the environment, never from the file itself
var secretFields = []string{"privateKey", "clientSecret", "storage.redisPassword", "storage.postgresDsn"}

var requiredFields = []string{"stage", "backendUrl", "privateKey", "clientId", "clientSecret", "identityProviderUrl"}

var bashStyle = regexp.MustCompile(`\$\{?([A-Z_][A-Z0-9_]*)\}?`)

// ValidateFile checks a config file's structure without resolving env vars
func ValidateFile(path string) (*ValidationResult, error) {
	result := &ValidationResult{}

	raw, err := readRaw(path)
	if err != nil {
		if errors.Is(err, errReadConfig) {
			return nil, err
		}
		result.addError("", "%v", err)
		return result, nil
	}

	checkBashStyleSyntax(raw, "", result)

	for _, field := range requiredFields {
		if _, ok := lookup(raw, field); !ok {
			result.addError(field, "%s is required", field)
		}
	}

	for _, field := range secretFields {
		value, ok := lookup(raw, field)
		if !ok {
			continue
		}
		if _, isRef := envRef(value); !isRef {
			result.addError(field, "%s must use an environment variable reference {\"$env\": \"YOUR_ENV_VAR\"}. Hint: This prevents secrets from being stored in config files", field)
		}
	}

	if platform, ok := lookup(raw, "platform"); ok {
		if s, _ := platform.(string); s != string(PlatformGoogle) && s != string(PlatformLocal) {
			result.addError("platform", "platform must be \"google\" or \"local\", got %v", platform)
		}
	} else {
		result.addWarning("platform", "platform not set, defaulting to %q", PlatformGoogle)
	}

	validateStorageStructure(raw, result)
	return result, nil
}

func validateStorageStructure(raw map[string]any, result *ValidationResult) {
	storage, ok := raw["storage"].(map[string]any)
	if !ok {
		if _, present := raw["storage"]; present {
			result.addError("storage", "storage must be an object")
		}
		return
	}

	kind, _ := storage["kind"].(string)
	switch StorageKind(kind) {
	case "", StorageMemory:
		result.addWarning("storage.kind", "memory storage loses handshake state on restart and is not shared between replicas")
	case StorageFirestore, StorageDatastore:
		if _, ok := storage["projectId"]; !ok {
			result.addError("storage.projectId", "projectId is required when using %s storage", kind)
		}
	case StorageRedis:
		if _, ok := storage["redisAddr"]; !ok {
			result.addError("storage.redisAddr", "redisAddr is required when using redis storage")
		}
	case StoragePostgres:
		if _, ok := storage["postgresDsn"]; !ok {
			result.addError("storage.postgresDsn", "postgresDsn is required when using postgres storage")
		}
	case StorageDynamoDB:
		if _, ok := storage["table"]; !ok {
			result.addWarning("storage.table", "table not set, defaulting to %q", DefaultDynamoDBTable)
		}
	default:
		result.addError("storage.kind", "unknown storage kind %q", kind)
	}
}

func lookup(raw map[string]any, dotted string) (any, bool) {
	var node any = raw
	for _, part := range strings.Split(dotted, ".") {
		m, ok := node.(map[string]any)
		if !ok {
			return nil, false
		}
		if node, ok = m[part]; !ok {
			return nil, false
		}
	}
	return node, true
}

func checkBashStyleSyntax(value any, path string, result *ValidationResult) {
	switch v := value.(type) {
	case string:
		if matches := bashStyle.FindStringSubmatch(v); len(matches) > 1 {
			result.addError(path, "found bash-style syntax '%s' - use {\"$env\": \"%s\"} instead", v, matches[1])
		}
	case map[string]any:
		for k, child := range v {
			checkBashStyleSyntax(child, joinPath(path, k), result)
		}
	case []any:
		for i, child := range v {
			checkBashStyleSyntax(child, fmt.Sprintf("%s[%d]", path, i), result)
		}
	}
}
