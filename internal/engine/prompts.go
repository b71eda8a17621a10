// Package engine implements the SAGE inference pipeline.
// This file holds the fixed prompts used for intent classification and
// conversational replies.
package engine

// IntentClassificationPrompt is the fixed system prompt for intent
// classification. The model must answer with exactly one word from the set.
const IntentClassificationPrompt = `You classify questions for a clinical study data assistant.
Respond with ONLY one word from this list, nothing else:

CLINICAL_DATA - questions about study data: patients, subjects, adverse events, demographics, labs, vitals, medications, counts, summaries
GREETING - greetings like "hi", "hello", "good morning"
HELP - asking what the assistant can do or how to use it
IDENTITY - asking who or what the assistant is
FAREWELL - goodbyes like "bye", "thanks, that's all"
STATUS - asking whether the system or data is available
GENERAL - any other small talk or off-topic question

Examples:
"How many patients had headaches?" -> CLINICAL_DATA
"Hi there" -> GREETING
"What can you do?" -> HELP

Answer with only the single word.`

// SystemContext is the fixed conversational system prompt describing the
// product. Used for non-clinical intents only.
const SystemContext = `You are SAGE, a clinical study data assistant built on Claude-class language models.
You answer natural-language questions about clinical study data stored in CDISC
SDTM and ADaM datasets: adverse events, demographics, laboratory results,
vital signs and concomitant medications.

Capabilities:
- "How many patients had headaches?"
- "Show serious adverse events in the safety population"
- "Count cases of anaemia by treatment arm"

You only read study data; you never modify it. Keep conversational replies
brief and friendly, and steer users toward clinical data questions.`

// instantResponses short-circuits trivially recognisable conversational
// inputs without an LLM round-trip. Keys are normalized question text.
var instantResponses = map[string]Intent{
	"hi":           IntentGreeting,
	"hello":        IntentGreeting,
	"hey":          IntentGreeting,
	"good morning": IntentGreeting,
	"bye":          IntentFarewell,
	"goodbye":      IntentFarewell,
	"thanks":       IntentFarewell,
	"thank you":    IntentFarewell,
	"help":         IntentHelp,
	"who are you":  IntentIdentity,
	"what are you": IntentIdentity,
}

// cannedReplies answers instant intents without any LLM call.
var cannedReplies = map[Intent]string{
	IntentGreeting: "Hello! I'm SAGE, your clinical study data assistant. Ask me about adverse events, demographics, labs, vitals or medications — for example, \"How many patients had headaches?\"",
	IntentFarewell: "You're welcome! Come back any time you need answers from the study data.",
	IntentHelp:     "I answer questions about clinical study data. Try \"How many patients had serious adverse events?\", \"Show lab results for the safety population\" or \"Count cases of anaemia\".",
	IntentIdentity: "I'm SAGE, a question-answering assistant for clinical study data. I turn your questions into validated analytical queries over the study's SDTM and ADaM datasets.",
}
