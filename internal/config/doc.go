// Package config provides configuration structures and utilities for proxyprobe.
// It defines the probe endpoints, queue bounds, server settings, and report
// preferences, and loads them from a YAML file and the environment.
package config
