// Package comfy is the HTTP client for a pod's ComfyUI generation backend:
// prompt submission, history polling, and the system stats health check.
package comfy
