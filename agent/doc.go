// Package agent implements the per-agent runtime shell: lifecycle status
// machine, heartbeat-derived health, an inbound FIFO message queue, and
// the task execution contract every agent type embeds.
package agent
