package wsdispatcher

import (
	"github.com/go-playground/validator/v10"
)

// Defines configuration options for the dispatcher.
//
// Use the factory function to get a new instance of the struct with nice defaults and then modify
// settings using With*** methods.
type DispatcherConfigurationOptions struct {
	// If true, the dispatcher plays the server role: incoming frames must be masked and outgoing
	// frames are not masked. Client role is the opposite.
	//
	// Defaults to true.
	ServerMode bool
	// Maximum payload size of an incoming frame or reassembled message (bytes).
	//
	// Defaults to 65536. Must be at least 1.
	MaxFrameSize int `validate:"gte=1"`
	// Size of the chunks read from the transport (bytes).
	//
	// Defaults to 4096. Must be at least 1.
	ReadBufferSize int `validate:"gte=1"`
	// Number of bytes buffered for the transport above which the dispatcher stops encoding
	// outgoing messages until the buffer is flushed (bytes).
	//
	// Defaults to 32768. Must be at least 1.
	WriteBufferHighWatermark int `validate:"gte=1"`
	// Maximum number of service calls running at the same time. Once the limit is reached, the
	// dispatcher stops decoding frames until a call completes.
	//
	// Defaults to 0 (unlimited). Must be greater or equal to 0.
	MaxConcurrentCalls int `validate:"gte=0"`
	// If true, frames which exceed MaxFrameSize are dropped and the dispatcher keeps going.
	// Otherwise they terminate the dispatcher as any other decoding error.
	//
	// Defaults to false.
	SkipOversizedFrames bool
}

// # Description
//
// Set opts.ServerMode and return the modified object. Method does not validate inputs.
//
// # ServerMode
//
// This option defines whether the dispatcher plays the server (true) or the client (false) role.
//
// Defaults to true.
//
// # Return
//
// The modified options.
func (opts *DispatcherConfigurationOptions) WithServerMode(value bool) *DispatcherConfigurationOptions {
	// Set and return
	opts.ServerMode = value
	return opts
}

// # Description
//
// Set opts.MaxFrameSize and return the modified object. Method does not validate inputs.
//
// # MaxFrameSize
//
// This option defines the maximum payload size of an incoming frame or reassembled message.
//
// Defaults to 65536. Must be greater or equal to 1.
//
// # Return
//
// The modified options.
func (opts *DispatcherConfigurationOptions) WithMaxFrameSize(value int) *DispatcherConfigurationOptions {
	// Set and return
	opts.MaxFrameSize = value
	return opts
}

// # Description
//
// Set opts.ReadBufferSize and return the modified object. Method does not validate inputs.
//
// # ReadBufferSize
//
// This option defines the size of the chunks read from the transport.
//
// Defaults to 4096. Must be greater or equal to 1.
//
// # Return
//
// The modified options.
func (opts *DispatcherConfigurationOptions) WithReadBufferSize(value int) *DispatcherConfigurationOptions {
	// Set and return
	opts.ReadBufferSize = value
	return opts
}

// # Description
//
// Set opts.WriteBufferHighWatermark and return the modified object. Method does not validate
// inputs.
//
// # WriteBufferHighWatermark
//
// This option defines the number of buffered outgoing bytes above which the dispatcher stops
// encoding messages until buffered bytes are flushed to the transport.
//
// Defaults to 32768. Must be greater or equal to 1.
//
// # Return
//
// The modified options.
func (opts *DispatcherConfigurationOptions) WithWriteBufferHighWatermark(value int) *DispatcherConfigurationOptions {
	// Set and return
	opts.WriteBufferHighWatermark = value
	return opts
}

// # Description
//
// Set opts.MaxConcurrentCalls and return the modified object. Method does not validate inputs.
//
// # MaxConcurrentCalls
//
// This option defines the maximum number of service calls running at the same time. A value of
// 0 disables the limit.
//
// Defaults to 0. Must be greater or equal to 0.
//
// # Return
//
// The modified options.
func (opts *DispatcherConfigurationOptions) WithMaxConcurrentCalls(value int) *DispatcherConfigurationOptions {
	// Set and return
	opts.MaxConcurrentCalls = value
	return opts
}

// # Description
//
// Set opts.SkipOversizedFrames and return the modified object. Method does not validate inputs.
//
// # SkipOversizedFrames
//
// This option defines whether frames above MaxFrameSize are dropped (true) or terminate the
// dispatcher (false).
//
// Defaults to false.
//
// # Return
//
// The modified options.
func (opts *DispatcherConfigurationOptions) WithSkipOversizedFrames(value bool) *DispatcherConfigurationOptions {
	// Set and return
	opts.SkipOversizedFrames = value
	return opts
}

// # Description
//
// Factory which creates a new DispatcherConfigurationOptions object with nice defaults. Settings
// can then be modified by the user by using With*** methods.
//
// # Default settings
//
//   - ServerMode = true , the dispatcher expects masked frames and sends unmasked frames.
//   - MaxFrameSize = 65536 (64 KiB).
//   - ReadBufferSize = 4096 (4 KiB).
//   - WriteBufferHighWatermark = 32768 (32 KiB).
//   - MaxConcurrentCalls = 0 , no limit.
//   - SkipOversizedFrames = false , oversized frames terminate the dispatcher.
func NewDispatcherConfigurationOptions() *DispatcherConfigurationOptions {
	return &DispatcherConfigurationOptions{
		ServerMode:               true,
		MaxFrameSize:             65536,
		ReadBufferSize:           4096,
		WriteBufferHighWatermark: 32768,
		MaxConcurrentCalls:       0,
		SkipOversizedFrames:      false,
	}
}

// # Description
//
// Helper function which validates DispatcherConfigurationOptions. Options are valid if:
//   - opts is not nil
//   - opts.MaxFrameSize is greater or equal to 1
//   - opts.ReadBufferSize is greater or equal to 1
//   - opts.WriteBufferHighWatermark is greater or equal to 1
//   - opts.MaxConcurrentCalls is greater or equal to 0
//
// # Returns
//
// InvalidValidationError for bad values passed in and nil or ValidationErrors as error otherwise.
// You will need to assert the error if it's not nil eg. err.(validator.ValidationErrors) to access
// the array of errors.
func Validate(opts *DispatcherConfigurationOptions) error {
	// Validate
	return validator.New().Struct(opts)
}
