package stages

// Prompt templates for the research stages. Kept in one place so the wording
// can be tuned without touching stage logic.

const thesisPrompt = `You are an expert academic researcher. Based on the research topic '%s',
formulate a clear, focused thesis statement that will guide the research.

A good thesis statement makes a debatable claim requiring evidence and gives
the research direction. Return only the thesis statement, as a single
paragraph with no preamble.`

const surveyQueryPrompt = `Based on the research topic '%s' and thesis statement '%s',
generate one web search query to find relevant academic literature:
key papers, theories, and methodologies. Return only the query text.`

const surveySummaryPrompt = `Summarize the key findings from the literature on '%s'.

Focus on major theories and frameworks, key contributors, methodological
approaches, and gaps in the existing literature.

Previous summary (may be empty):
%s

Sources:
%s

Return a comprehensive summary integrating the new sources with the previous
summary.`

const validationPrompt = `Evaluate whether the gathered literature is a sufficient foundation for the
research topic '%s' with thesis '%s'.

Literature summary:
%s

Number of sources gathered: %d

Score the literature on three axes from 0.0 to 1.0 and respond with JSON
only, no prose:
{"comprehensiveness": 0.0, "currency": 0.0, "relevance": 0.0, "notes": "one sentence"}`

const gapAnalysisPrompt = `Analyze the literature gathered for the research topic '%s' with thesis '%s'.

Literature summary:
%s

Identify the specific knowledge gaps that must be addressed to strengthen
the research: missing evidence, absent theoretical frameworks, unexplored
counter-arguments. Respond with JSON only:
{"gaps": [{"description": "...", "importance": "low|medium|high", "research_question": "..."}]}`

const gapQueryPrompt = `Generate one web search query to address this gap in the literature:
'%s'

The query should find sources related to the research topic '%s' and thesis
'%s'. Return only the query text.`

const updateSummaryPrompt = `Update the literature summary for the research topic '%s' with new findings.

Previous summary:
%s

New sources:
%s

Return a comprehensive updated summary that integrates the new information
with the previous findings without dropping prior content.`

const consolidatePrompt = `Consolidate the literature summary for the research topic '%s' with thesis
'%s' into its final form: an integrated narrative in a formal academic
register, with consistent terminology throughout.

Current summary:
%s

Return only the consolidated summary.`

const outlinePrompt = `Design the section outline for a research paper on '%s' with thesis '%s'.

Literature summary:
%s

Respond with JSON only: an array of sections in paper order, each with a
short snake_case id, a title, and 2-4 key points:
[{"id": "introduction", "title": "Introduction", "key_points": ["..."]}]`

const draftSectionPrompt = `Write the '%s' section of a research paper on '%s'.

Thesis statement: %s

Key points to cover:
%s

Literature summary to draw on:
%s

Write in a formal academic register, citing sources inline by title where
relevant. Use terminology consistent with the literature summary, open with
a transition from the preceding section, and avoid colloquialisms and
filler. Return only the section content.`

const reviseSectionPrompt = `Revise the '%s' section of a research paper on '%s' to fix the coherence
issues below while preserving its content and insights.

Coherence analysis:
%s

Current content:
%s

Beyond the flagged issues, refine the prose: formal academic register,
precise and consistent terminology, smooth transitions between paragraphs.
Return only the revised section content.`

const coherencePrompt = `Analyze the coherence and logical flow between sections of a research paper
on '%s' with thesis '%s'.

Section summaries:
%s

Evaluate logical progression, consistency of terminology, transitions, and
alignment with the thesis. Respond with JSON only:
{"coherent": true, "incoherent_sections": ["section_id"], "analysis": "..."}`
