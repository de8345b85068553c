package validation

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/opennetworkinglab/onos-sub118/internal/errors"
	"github.com/opennetworkinglab/onos-sub118/internal/model"
)

const (
	// Size limits
	MaxKeySize        = 512
	MaxProviderSize   = 128
	MaxLocationSize   = 512
	MaxAddresses      = 256
	MaxAnnotations    = 128
	MaxAnnotationSize = 1024
	MaxPayloadSize    = 256 * 1024 // 256 KB, keeps a change inside one gossip frame budget
)

// Validator checks inbound API arguments. Peer messages are checked by
// the wire decoder instead.
type Validator struct {
	maxKeySize     int
	maxPayloadSize int
}

// NewValidator creates a new validator with default limits
func NewValidator() *Validator {
	return &Validator{
		maxKeySize:     MaxKeySize,
		maxPayloadSize: MaxPayloadSize,
	}
}

// NewValidatorWithLimits creates a validator with custom limits
func NewValidatorWithLimits(maxKeySize, maxPayloadSize int) *Validator {
	return &Validator{
		maxKeySize:     maxKeySize,
		maxPayloadSize: maxPayloadSize,
	}
}

// ValidateWrite validates a create-or-update
func (v *Validator) ValidateWrite(key model.EntityKey, provider model.ProviderID, desc *model.Description) error {
	if err := v.ValidateKey(key); err != nil {
		return err
	}
	if err := v.ValidateProvider(provider); err != nil {
		return err
	}
	return v.ValidateDescription(desc)
}

// ValidateKey validates an entity key
func (v *Validator) ValidateKey(key model.EntityKey) error {
	s := string(key)
	if s == "" {
		return errors.InvalidKey(s, "key cannot be empty")
	}
	if len(s) > v.maxKeySize {
		shown := s
		if len(shown) > 32 {
			shown = shown[:32] + "..."
		}
		return errors.InvalidKey(shown, "key exceeds maximum size").
			WithDetail("size", len(s)).
			WithDetail("max_size", v.maxKeySize)
	}
	if !utf8.ValidString(s) {
		return errors.InvalidKey(s, "key must be valid UTF-8")
	}
	if strings.IndexFunc(s, unicode.IsControl) >= 0 {
		return errors.InvalidKey(s, "key cannot contain control characters")
	}
	return nil
}

// ValidateProvider validates a provider id
func (v *Validator) ValidateProvider(p model.ProviderID) error {
	s := string(p)
	if s == "" || s == "~" {
		return errors.InvalidProvider(s, "provider cannot be empty")
	}
	if len(s) > MaxProviderSize {
		return errors.InvalidProvider(s, "provider exceeds maximum size")
	}
	if strings.ContainsAny(s, " \t\n") {
		return errors.InvalidProvider(s, "provider cannot contain whitespace")
	}
	return nil
}

// ValidateDescription validates an entity description
func (v *Validator) ValidateDescription(d *model.Description) error {
	if d == nil {
		return errors.InvalidValue("description cannot be nil")
	}
	if len(d.Location) > MaxLocationSize {
		return errors.InvalidValue("location exceeds maximum size")
	}
	if len(d.Addresses) > MaxAddresses {
		return errors.InvalidValue("too many addresses").WithDetail("count", len(d.Addresses))
	}
	if len(d.Annotations) > MaxAnnotations {
		return errors.InvalidValue("too many annotations").WithDetail("count", len(d.Annotations))
	}
	for k, val := range d.Annotations {
		if k == "" {
			return errors.InvalidValue("annotation name cannot be empty")
		}
		if strings.Contains(k, "=") {
			return errors.InvalidValue("annotation name cannot contain '='").WithDetail("name", k)
		}
		if len(k)+len(val) > MaxAnnotationSize {
			return errors.InvalidValue("annotation exceeds maximum size").WithDetail("name", k)
		}
	}
	if len(d.Payload) > v.maxPayloadSize {
		return errors.ValueTooLarge(len(d.Payload), v.maxPayloadSize)
	}
	return nil
}
