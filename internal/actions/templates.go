package actions

const cleanTemplate = `You are a careful copy editor. Clean up the text below: fix spelling, grammar and punctuation, remove stray markup and repeated whitespace, and keep the author's meaning and voice intact. Do not summarize or add content.

Text:
{{.Input}}`

const summarizeTemplate = `Summarize the text below in a few sentences. Keep the key facts and conclusions and drop examples and repetition.

Text:
{{.Input}}`

const keypointsTemplate = `Extract the key points from the text below. Each point should be a single short sentence that stands on its own.

Text:
{{.Input}}`

const simplifyTemplate = `Rewrite the text below so that a twelve-year-old could understand it. Use short sentences and everyday words while keeping the meaning.

Text:
{{.Input}}`

const examplesTemplate = `Explain the main idea of the text below with one clear analogy or real-world example.

Text:
{{.Input}}`

const classifyTemplate = `Classify the text below into a single short category label such as "Technology", "Finance", "Health", "Politics", "Science", "Entertainment" or another fitting label.

Text:
{{.Input}}`

const sentimentTemplate = `Identify the overall emotional tone of the text below and briefly explain which words or phrases support that judgement.

Text:
{{.Input}}`
