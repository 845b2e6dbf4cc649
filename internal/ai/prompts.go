package ai

import "fmt"

// judgeSystemPrompt instructs the decision layer. The model must answer with
// a single JSON object so parseSignal can extract it even when the model
// wraps it in prose.
const judgeSystemPrompt = `You are the decision layer of a group-chat bot. ` +
	`You read recent group conversation and the latest message, and decide whether the bot should reply at all. ` +
	`The bot should join in naturally: reply when directly addressed, when a question matches its knowledge, ` +
	`or when it can add something genuinely useful. Stay quiet during private back-and-forth between members. ` +
	`Also watch for feedback about the bot itself: if a user complains the bot talks too much, set ` +
	`user_complaining_too_much to true. ` +
	`Respond with a single JSON object containing exactly these fields: ` +
	`should_reply (boolean), reason (string), user_complaining_too_much (boolean).`

func buildJudgePrompt(req JudgeRequest) (system, user string) {
	system = judgeSystemPrompt

	user = fmt.Sprintf("Recent conversation:\n%s\n\nLatest message:\n%s\n\nDecide whether to reply and answer with the JSON object only.",
		req.Context, req.CurrentMessage)
	return system, user
}

func buildGeneratePrompt(req GenerateRequest) (system, user string) {
	system = req.Persona

	user = fmt.Sprintf("Recent conversation:\n%s\n\nLatest message:\n%s\n\nWrite the bot's next group-chat reply. Reply with the message text only, no commentary.",
		req.Context, req.CurrentMessage)
	return system, user
}
