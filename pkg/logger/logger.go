package logger

// Instance is a logging backend. Backends receive the message plus
// alternating key/value pairs.
type Instance interface {
	Debug(message string, keyvals ...any)
	Info(message string, keyvals ...any)
	Warn(message string, keyvals ...any)
	Error(message string, keyvals ...any)
	Fatal(message string, keyvals ...any)
}

// Logger dispatches log calls to all configured backends.
type Logger struct {
	instances []Instance
}

var singleton *Logger

// Init installs the global logger. Must be called once at startup before
// any logging functions are used; logging before Init is a no-op.
func Init(instances ...Instance) {
	singleton = &Logger{instances: instances}
}

// Debug writes a message at DEBUG level to all configured backends.
func Debug(message string, keyvals ...any) {
	if singleton == nil {
		return
	}
	for _, instance := range singleton.instances {
		instance.Debug(message, keyvals...)
	}
}

// Info writes a message at INFO level to all configured backends.
func Info(message string, keyvals ...any) {
	if singleton == nil {
		return
	}
	for _, instance := range singleton.instances {
		instance.Info(message, keyvals...)
	}
}

// Warn writes a message at WARN level to all configured backends.
func Warn(message string, keyvals ...any) {
	if singleton == nil {
		return
	}
	for _, instance := range singleton.instances {
		instance.Warn(message, keyvals...)
	}
}

// Error writes a message at ERROR level to all configured backends.
func Error(message string, keyvals ...any) {
	if singleton == nil {
		return
	}
	for _, instance := range singleton.instances {
		instance.Error(message, keyvals...)
	}
}

// Fatal writes a message at FATAL level and terminates the program.
func Fatal(message string, keyvals ...any) {
	if singleton == nil {
		return
	}
	for _, instance := range singleton.instances {
		instance.Fatal(message, keyvals...)
	}
}
