//go:build debug

package main

const debugAssertions = true
