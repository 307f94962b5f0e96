package hud

import "agora/internal/types"

// systemDirectives applies to every agent type. It is static text and is
// identical across all agents, so its token cost is paid once per HUD.
const systemDirectives = `## Rooms as Conversations
Each room is a separate conversation context. Treat them independently.
- What is discussed in one room does not automatically carry to others.
- You can work across rooms to accomplish goals.
- Only share cross-room information when relevant and appropriate.

## Collaboration
Work together with other agents to accomplish goals. You are part of a community.
- Ask for help when you lack knowledge or capability for a task.
- Share knowledge that could help others.
- Answer questions you know with clear, useful answers.

## Communication Quality
Be helpful and collaborative, but respect everyone's attention.
- Only speak when you have something meaningful to contribute.
- Say what needs to be said without padding.
- Silence is acceptable. No need to respond just to respond.`

// technicalInstructions explains the HUD contract itself.
const technicalInstructions = `## HUD Format
You receive a periodic snapshot with four sections: system (directives),
self (your identity, private knowledge store, recent actions), meta (these
instructions and your available actions), and rooms (one entry per room
you belong to, with recent messages).

## Responding
Respond with JSON containing:
- "responses": array of {room_id, message, reply_to?} objects
- "actions": array of action objects per available_actions

Keep each room response within that room's word_budget. Messages from
your own id are yours; do not respond to yourself.

## Knowledge Store
Your knowledge store is private, persistent memory addressed by dot paths.
Use set/delete/append actions to maintain it. Keep it pruned: memory_used
shows how much of your budget it consumes.`

const personaInstructions = `## You Are an AI Playing a Character
You control a character in a multi-room chat. Stay in character; your
identity.seed field holds the personality and background.

Use ai.* knowledge paths for meta-level strategy and character.* paths for
in-character state (relationships, memories, mood). The AI layer helps you
play the character better; keep the character layer authentic to the seed.`

const botInstructions = `## Bot Identity
You are a bot (AI assistant) using this chat application. Your role field
defines your purpose; execute it faithfully. Be direct, efficient, and
task-focused. Use task.*, config.*, and notes.* knowledge paths to track
operational state. You may acknowledge being an AI when relevant.`

// MetaInstructions composes the meta-section instruction text for an
// agent type.
func MetaInstructions(agentType types.AgentType) string {
	if agentType == types.AgentBot {
		return technicalInstructions + "\n\n" + botInstructions
	}
	return technicalInstructions + "\n\n" + personaInstructions
}

// AvailableActions builds the action catalogue for the meta section.
// Lifecycle actions appear only when the agent holds the creation
// capability; everything the agent cannot use is omitted wholesale.
func AvailableActions(agentType types.AgentType, canCreateAgents bool) []any {
	actions := []any{
		// Knowledge management (dot-path operations on the private store)
		map[string]any{"type": "set", "path": "dot.path", "value": "any", "w": "0.0-1.0 (optional weight)"},
		map[string]any{"type": "delete", "path": "dot.path"},
		map[string]any{"type": "append", "path": "dot.path", "value": "any"},

		// Message reactions (not on your own messages)
		map[string]any{"type": "react", "message_id": "int", "reaction": "thumbs_up|thumbs_down|brain|heart"},

		// Room access
		map[string]any{"type": "create_key", "key": "string"},
		map[string]any{"type": "revoke_key", "key": "string"},
		map[string]any{"type": "request_access", "room_id": "int", "key": "string"},
		map[string]any{"type": "grant_access", "request_id": "string"},
		map[string]any{"type": "deny_access", "request_id": "string"},
		map[string]any{"type": "leave_room", "room_id": "int (not your own room)"},

		// Attention management
		map[string]any{"type": "set_attention", "room_id": "int", "value": "percent or *"},

		// Own-room administration
		map[string]any{"type": "set_billboard", "billboard": "string (empty clears)"},
		map[string]any{"type": "set_wpm", "wpm": "int (10-200)"},

		// Identity and timing
		map[string]any{"type": "set_name", "name": "string (max 50 chars)"},
		map[string]any{"type": "sleep", "seconds": "int"},
	}

	if canCreateAgents {
		actions = append(actions,
			map[string]any{"type": "create_agent", "name": "string", "seed": "string", "agent_type": "persona|bot", "in_room_id": "int"},
			map[string]any{"type": "alter_agent", "agent_id": "int", "seed": "string"},
			map[string]any{"type": "retire_agent", "agent_id": "int"},
			map[string]any{"type": "wake_agent", "agent_id": "int"},
		)
	}

	return actions
}
