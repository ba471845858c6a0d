package intent

import "strings"

const messagePlaceholder = "{message}"

const searchIntentTemplate = `You classify chat messages sent to a discussion-search assistant.

Decide whether the user wants to SEARCH for discussions, or just wants to CHAT.

SEARCH: the user asks to find, look up, browse or show discussions, threads or stories about a topic. Questions such as "what about X?" that point at a topic also count.
CHAT: greetings, thanks, small talk, requests to explain or write something, or anything without a topic to look up.

When the message is a search, extract the shortest query that captures the topic. Drop filler words such as "find", "show me", "discussions about".

Message: "{message}"

Reply with ONLY a JSON object in this exact shape:
{"isSearch": true or false, "searchQuery": "topic or null", "confidence": number from 0 to 1, "reasoning": "one short sentence"}

Examples:
"find discussions about rust async" -> {"isSearch": true, "searchQuery": "rust async", "confidence": 0.95, "reasoning": "Explicit request to find discussions"}
"anything on sqlite lately?" -> {"isSearch": true, "searchQuery": "sqlite", "confidence": 0.8, "reasoning": "Asks about a topic"}
"thanks, that helps" -> {"isSearch": false, "searchQuery": null, "confidence": 0.9, "reasoning": "Acknowledgement"}
"explain how a B-tree works" -> {"isSearch": false, "searchQuery": null, "confidence": 0.7, "reasoning": "Asks for an explanation"}

JSON Response:`

// BuildPrompt substitutes message into the classification template.
func BuildPrompt(message string) string {
	return strings.Replace(searchIntentTemplate, messagePlaceholder, message, 1)
}
