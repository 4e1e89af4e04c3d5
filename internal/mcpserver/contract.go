package mcpserver

// FormatContract describes how dossier content is stored and mirrored so
// that LLM consumers write summaries and entries that render well.
const FormatContract = `# Dossier Format Contract

Each person in a guild has one dossier. When the person is linked to a
thread, the dossier is mirrored there.

## Layout in the thread

- The **starter message** holds the summary. It is pinned and edited in place
  on every summary update. A person without a summary shows
  ` + "`" + `**<name>** — (summary pending)` + "`" + `.
- Each **entry** is one message:

` + "```" + `markdown
**<title>**

<body with mention links>
` + "```" + `

## Limits

1. ` + "`" + `summary_md` + "`" + `: required, at most 600 characters after trimming.
2. ` + "`" + `title` + "`" + `: required, at most 200 characters after trimming.
3. ` + "`" + `body_md` + "`" + `: required, non-empty after trimming.
4. Person names: at most 100 characters and unique per guild across names,
   slugs and aliases.

## Mention linking

- Names and aliases of other linked persons are turned into links to their
  threads: ` + "`" + `[Marcus](https://discord.com/channels/<guild>/<thread>)` + "`" + `.
- Matching is case-insensitive, whole-word and longest-name-first.
- Text inside inline code or an existing Markdown link is left alone, so wrap
  a name in backticks to keep it unlinked.
- At most 15 links are added per entry.
- Write plain names. Do not add thread links yourself; ` + "`" + `refresh_links` + "`" + `
  re-renders every entry when threads change.

## Example entry

` + "```" + `markdown
**Met at the docks**

Elena handed the ledger to the fixer. ` + "`" + `Marcus` + "`" + ` was not named.
` + "```" + `
`
