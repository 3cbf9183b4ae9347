package config

// GetDefaultParameters returns the built-in parameters. By default no budget is
// configured, so no deadline applies until a user or project file sets one.
func GetDefaultParameters() Parameters {
	return NewParameters(map[string]string{
		KeyAutodetection:     "false",
		KeyTimeoutMode:       "enabled",
		KeyTimeoutThreadMode: "same_thread",
		KeyParallelEnabled:   "false",
		KeyParallelism:       "4",
	})
}
