package ai

const ConceptPrompt = `
# Task Context
You extract the concepts that link passages of due-diligence material: named entities (companies, funds, people, regulators, jurisdictions, statutes, tokens) and salient noun phrases (e.g. "aml policy", "custody arrangement").

# Background Data
%s

# Detailed Task Description & Rules
- Only return concepts that appear in the text or are unambiguous abbreviations of something that appears in it.
- Use the shortest form that still identifies the concept ("sec", not "the u.s. securities and exchange commission" if the text uses "SEC").
- Do not return generic words ("company", "information", "document").
- Return at most %d concepts.
- Return the same concepts for the same text.

# Output Formatting
Return JSON with the following structure:
{
  "concepts": [string]
}
Output must be valid JSON only (no commentary, no extra text).
`

const AnswerPrompt = `
# Task Context
You are a due-diligence analyst answering one question about a fund or company using only the provided excerpts.

# Background Data
## Question
%s

## Excerpts
%s

# Detailed Task Description & Rules
- Answer strictly from the excerpts. Do not use outside knowledge.
- Cite the excerpt ids you rely on in double square brackets, e.g. [[a1b2c3]].
- If the excerpts do not contain the answer, reply with exactly: %s

# Output Formatting
Return a concise answer in plain text (at most a few sentences).
`

// NotFoundMarker is the literal reply AnswerPrompt asks for when the
// excerpts do not answer the question.
const NotFoundMarker = "NOT_FOUND"

const ClassifyRiskPrompt = `
# Task Context
You assess the risk expressed by an answer to a due-diligence question.

# Background Data
## Question
%s

## Answer
%s

# Detailed Task Description & Rules
- Positive: the answer shows the risk is addressed (a policy exists, a control is in place).
- Negative: the answer shows the risk is not addressed or reveals a red flag.
- Partial: the answer shows the risk is only partly addressed.
- Missing: the answer does not contain the information needed to judge.

# Output Formatting
Reply with exactly one word: Positive, Negative, Partial or Missing.
`

const GapPrompt = `
# Task Context
You review whether an answer to a due-diligence question is sufficiently supported by the retrieved excerpts, and describe what is missing so it can be collected later.

# Background Data
## Question
%s

## Excerpts
%s

## Answer
%s

# Detailed Task Description & Rules
- "is_gap" is true when the answer is unsupported, only weakly supported, or incomplete.
- "missing_information" lists the concrete facts or documents that would close the gap.
- "follow_up_questions" lists targeted questions to send to the counterparty.
- "reason" is one sentence.

# Output Formatting
Return JSON with the following structure:
{
  "is_gap": boolean,
  "missing_information": [string],
  "follow_up_questions": [string],
  "reason": string
}
Output must be valid JSON only (no commentary, no extra text).
`
