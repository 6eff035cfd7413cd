package grammar

import "regexp"

// Priority bands: 10-19 very specific phrasings, 20-29 verb-specific,
// 30-49 moderate, >=50 generic catch-alls (small confidence penalty).
const genericPriority = 50

// assertPrefix covers the assertion verbs verbatim so Pass 1 catches them
// before the synonym pass would rewrite everything to "verify".
const assertPrefix = `(?:verify|check|ensure|confirm|assert|make sure)(?: that)?(?: the)? `

func rule(id string, cat Category, intent string, priority int, pattern string, extract func(m []string, quoted []string) Extraction, examples ...string) Rule {
	return Rule{
		ID:       id,
		Pattern:  regexp.MustCompile(`(?i)^` + pattern + `$`),
		Category: cat,
		Intent:   intent,
		Priority: priority,
		Extract:  extract,
		Examples: examples,
	}
}

// Extractor helpers. Capture groups may still contain quoted-string
// placeholders; resolve them here so downstream code never sees one.

func targetOnly(m []string, quoted []string) Extraction {
	return Extraction{Target: resolveQuoted(m[1], quoted)}
}

func valueThenTarget(m []string, quoted []string) Extraction {
	return Extraction{
		Value:  resolveQuoted(m[1], quoted),
		Target: resolveQuoted(m[2], quoted),
	}
}

func targetThenValue(m []string, quoted []string) Extraction {
	return Extraction{
		Target: resolveQuoted(m[1], quoted),
		Value:  resolveQuoted(m[2], quoted),
	}
}

func targetThenExpected(m []string, quoted []string) Extraction {
	ex := Extraction{
		Target:   resolveQuoted(m[1], quoted),
		Expected: resolveQuoted(m[2], quoted),
	}
	return applyExpectedModifiers(ex)
}

func expectedOnly(m []string, quoted []string) Extraction {
	return applyExpectedModifiers(Extraction{Expected: resolveQuoted(m[1], quoted)})
}

func nothing([]string, []string) Extraction { return Extraction{} }

func negatedTarget(m []string, quoted []string) Extraction {
	ex := targetOnly(m, quoted)
	ex.Modifiers.Negated = true
	return ex
}

// applyExpectedModifiers lifts "exactly"/"ignoring case" qualifiers out of
// the expected value.
func applyExpectedModifiers(ex Extraction) Extraction {
	if rest, ok := cutPrefixFold(ex.Expected, "exactly "); ok {
		ex.Expected = rest
		ex.Modifiers.Exact = true
	}
	if rest, ok := cutSuffixFold(ex.Expected, " ignoring case"); ok {
		ex.Expected = rest
		ex.Modifiers.CaseInsensitive = true
	}
	return ex
}

func builtinRules() []Rule {
	return []Rule{
		// --- keyboard / pointer specifics ---
		rule("press_key", CategoryAction, IntentPressKey, 10,
			`press(?: the)? (.+?) key`,
			func(m []string, q []string) Extraction {
				return Extraction{Params: map[string]string{"key": resolveQuoted(m[1], q)}}
			},
			"Press the Enter key"),
		rule("force_click", CategoryAction, IntentClick, 12,
			`force[ -]?click(?: on)?(?: the)? (.+)`,
			func(m []string, q []string) Extraction {
				ex := targetOnly(m, q)
				ex.Modifiers.Force = true
				return ex
			},
			"Force click the Save button"),
		rule("double_click", CategoryAction, IntentDoubleClick, 14,
			`double[ -]?click(?: on)?(?: the)? (.+)`, targetOnly,
			"Double click the file icon"),
		rule("right_click", CategoryAction, IntentRightClick, 14,
			`right[ -]?click(?: on)?(?: the)? (.+)`, targetOnly,
			"Right click the row"),
		rule("click", CategoryAction, IntentClick, 20,
			`(?:click|tap)(?: on)?(?: the)? (.+)`, targetOnly,
			"Click the Login button", `Click the "Submit" button`),

		// --- text entry ---
		rule("fill_into", CategoryAction, IntentFill, 20,
			`(?:type|fill|enter) (.+?) (?:in|into) (?:the )?(.+)`, valueThenTarget,
			`Type 'a@b.com' in the Email field`),
		rule("fill_with", CategoryAction, IntentFill, 22,
			`fill(?: in)? (?:the )?(.+?) with (.+)`, targetThenValue,
			`Fill the Name field with "Ann"`),
		rule("clear_field", CategoryAction, IntentClear, 30,
			`clear (?:the )?(.+)`, targetOnly,
			"Clear the Search field"),

		// --- selection / toggles ---
		rule("select_from", CategoryAction, IntentSelect, 20,
			`select (.+?) (?:from|in) (?:the )?(.+)`, valueThenTarget,
			`Select "Canada" from the Country dropdown`),
		rule("select_plain", CategoryAction, IntentSelect, 48,
			`select (?:the )?(.+)`, targetOnly,
			"Select the Premium option"),
		rule("check_box", CategoryAction, IntentCheck, 26,
			`check (?:the )?(.+)`, targetOnly,
			"Check the Terms checkbox"),
		rule("uncheck_box", CategoryAction, IntentUncheck, 24,
			`uncheck (?:the )?(.+)`, targetOnly,
			"Uncheck the Subscribe checkbox"),

		// --- pointer ---
		rule("hover", CategoryAction, IntentHover, 20,
			`hover(?: over)?(?: the)? (.+)`, targetOnly,
			"Hover over the profile menu"),
		rule("focus", CategoryAction, IntentFocus, 24,
			`focus(?: on)?(?: the)? (.+)`, targetOnly,
			"Focus the Comment area"),
		rule("upload", CategoryAction, IntentUpload, 20,
			`upload (.+?) (?:to|into) (?:the )?(.+)`,
			func(m []string, q []string) Extraction {
				return Extraction{
					Target: resolveQuoted(m[2], q),
					Params: map[string]string{"file": resolveQuoted(m[1], q)},
				}
			},
			`Upload "cv.pdf" to the Resume field`),
		rule("drag", CategoryAction, IntentDrag, 20,
			`drag (?:the )?(.+?) (?:to|onto|into) (?:the )?(.+)`,
			func(m []string, q []string) Extraction {
				return Extraction{
					Target: resolveQuoted(m[1], q),
					Params: map[string]string{"destination": resolveQuoted(m[2], q)},
				}
			},
			"Drag the card onto the Done column"),

		// --- scrolling ---
		rule("scroll_dir", CategoryAction, IntentScroll, 20,
			`scroll(?: to(?: the)?)? (down|up|top|bottom)(?: of the page)?`,
			func(m []string, q []string) Extraction {
				return Extraction{Params: map[string]string{"direction": lowerTrim(m[1])}}
			},
			"Scroll down", "Scroll to the bottom of the page"),
		rule("scroll_to", CategoryAction, IntentScrollTo, 24,
			`scroll to (?:the )?(.+)`, targetOnly,
			"Scroll to the Comments section"),

		// --- navigation ---
		rule("navigate", CategoryAction, IntentNavigate, 20,
			`navigate to (.+)`,
			func(m []string, q []string) Extraction {
				return Extraction{Params: map[string]string{"url": resolveQuoted(m[1], q)}}
			},
			"Navigate to https://example.com", "Go to the checkout page"),
		rule("open_url", CategoryAction, IntentNavigate, 18,
			`open (https?://\S+|[\w-]+\.[a-z]{2,}\S*)`,
			func(m []string, q []string) Extraction {
				return Extraction{Params: map[string]string{"url": resolveQuoted(m[1], q)}}
			},
			"Open example.com/login"),
		rule("open_click", CategoryAction, IntentClick, 46,
			`open (?:the )?(.+)`, targetOnly,
			"Open the Settings menu"),
		rule("reload", CategoryAction, IntentReload, 12,
			`reload(?: the)?(?: page)?`, nothing,
			"Reload the page"),
		rule("go_back", CategoryAction, IntentGoBack, 12,
			`go back`, nothing, "Go back"),
		rule("go_forward", CategoryAction, IntentGoForward, 12,
			`go forward`, nothing, "Go forward"),

		// --- waiting ---
		rule("wait_duration", CategoryAction, IntentWait, 14,
			`wait(?: for)? (\d+) ?(milliseconds|millisecond|ms|seconds|second|secs|sec|s)`,
			func(m []string, q []string) Extraction {
				return Extraction{Params: map[string]string{
					"duration": m[1],
					"unit":     lowerTrim(m[2]),
				}}
			},
			"Wait 3 seconds"),
		rule("wait_for", CategoryAction, IntentWaitFor, 30,
			`wait (?:for|until) (?:the )?(.+?)(?: to appear| is visible)?`, targetOnly,
			"Wait for the spinner to appear"),

		// --- misc page ops ---
		rule("screenshot", CategoryAction, IntentScreenshot, 12,
			`take a screenshot`, nothing, "Take a screenshot"),
		rule("clear_cookies", CategoryAction, IntentClearCookies, 10,
			`clear(?: all)? cookies`, nothing, "Clear all cookies"),
		rule("clear_storage", CategoryAction, IntentClearStorage, 10,
			`clear (local|session) storage`,
			func(m []string, q []string) Extraction {
				return Extraction{Params: map[string]string{"scope": lowerTrim(m[1])}}
			},
			"Clear local storage"),
		rule("set_cookie", CategoryAction, IntentSetCookie, 12,
			`set(?: the)? cookie (.+?) to (.+)`,
			func(m []string, q []string) Extraction {
				return Extraction{Params: map[string]string{
					"name":  resolveQuoted(m[1], q),
					"value": resolveQuoted(m[2], q),
				}}
			},
			`Set the cookie "session" to "abc"`),

		// --- assertions: element state ---
		rule("assert_not_present", CategoryAssertion, IntentAssertNotPresent, 15,
			assertPrefix+`(.+?) (?:does not exist|is not present|is absent|is gone)`, negatedTarget,
			"Verify the Error banner is not present"),
		rule("assert_hidden", CategoryAssertion, IntentAssertHidden, 15,
			assertPrefix+`(.+?) is (?:hidden|invisible|not visible|not displayed|not shown)`, negatedTarget,
			"Verify the Error banner is hidden"),
		rule("assert_visible", CategoryAssertion, IntentAssertVisible, 16,
			assertPrefix+`(.+?) is (?:visible|displayed|shown)`, targetOnly,
			"Verify the Success message is visible"),
		rule("assert_present", CategoryAssertion, IntentAssertPresent, 16,
			assertPrefix+`(.+?) (?:exists|is present)`, targetOnly,
			"Check that the Download link exists"),
		rule("assert_disabled", CategoryAssertion, IntentAssertDisabled, 16,
			assertPrefix+`(.+?) is (?:disabled|not enabled|inactive)`, negatedTarget,
			"Verify the Submit button is disabled"),
		rule("assert_enabled", CategoryAssertion, IntentAssertEnabled, 17,
			assertPrefix+`(.+?) is (?:enabled|clickable)`, targetOnly,
			"Verify the Submit button is enabled"),
		rule("assert_unchecked", CategoryAssertion, IntentAssertUnchecked, 16,
			assertPrefix+`(.+?) is (?:unchecked|not checked|deselected)`, negatedTarget,
			"Verify the Subscribe checkbox is unchecked"),
		rule("assert_checked", CategoryAssertion, IntentAssertChecked, 17,
			assertPrefix+`(.+?) is (?:checked|ticked)`, targetOnly,
			"Verify the Terms checkbox is checked"),

		// --- assertions: page + content ---
		rule("assert_title", CategoryAssertion, IntentAssertTitle, 13,
			assertPrefix+`(?:page )?title (?:is|equals) (.+)`, expectedOnly,
			`Verify the page title is "Dashboard"`),
		rule("assert_url", CategoryAssertion, IntentAssertURL, 13,
			assertPrefix+`url (is|equals|contains) (.+)`,
			func(m []string, q []string) Extraction {
				ex := applyExpectedModifiers(Extraction{Expected: resolveQuoted(m[2], q)})
				mode := "equals"
				if lowerTrim(m[1]) == "contains" {
					mode = "contains"
				}
				if ex.Params == nil {
					ex.Params = map[string]string{}
				}
				ex.Params["mode"] = mode
				return ex
			},
			`Verify the URL contains "/checkout"`),
		rule("assert_count", CategoryAssertion, IntentAssertCount, 14,
			assertPrefix+`there (?:are|is) (\d+) (.+)`,
			func(m []string, q []string) Extraction {
				return Extraction{
					Target:   resolveQuoted(m[2], q),
					Expected: m[1],
				}
			},
			"Verify there are 3 rows"),
		rule("assert_contains", CategoryAssertion, IntentAssertTextContains, 18,
			assertPrefix+`(.+?) contains (.+)`, targetThenExpected,
			`Verify the summary contains "paid"`),
		rule("assert_value", CategoryAssertion, IntentAssertValue, 17,
			assertPrefix+`(.+?) has (?:the )?value (.+)`, targetThenExpected,
			`Verify the Quantity field has value "2"`),
		rule("assert_text_equals", CategoryAssertion, IntentAssertTextEquals, genericPriority,
			assertPrefix+`(.+?) (?:is|equals|says|shows|reads) (.+)`, targetThenExpected,
			`Verify the Total is '42.00'`),

		// --- queries ---
		rule("get_title", CategoryQuery, IntentGetTitle, 12,
			`(?:get|read|what is)(?: the)? (?:page )?title`, nothing,
			"Get the page title"),
		rule("get_url", CategoryQuery, IntentGetURL, 12,
			`(?:get|read|what is)(?: the)? (?:current )?(?:page )?url`, nothing,
			"Get the current URL"),
		rule("get_attribute", CategoryQuery, IntentGetAttribute, 16,
			`(?:get|read)(?: the)? (.+?) attribute of (?:the )?(.+)`,
			func(m []string, q []string) Extraction {
				return Extraction{
					Target: resolveQuoted(m[2], q),
					Params: map[string]string{"attribute": resolveQuoted(m[1], q)},
				}
			},
			`Get the "href" attribute of the Download link`),
		rule("get_value", CategoryQuery, IntentGetValue, 18,
			`(?:get|read)(?: the)? value of (?:the )?(.+)`, targetOnly,
			"Get the value of the Email field"),
		rule("get_text", CategoryQuery, IntentGetText, 20,
			`(?:get|read)(?: the)? text of (?:the )?(.+)`, targetOnly,
			"Get the text of the heading"),
		rule("get_count", CategoryQuery, IntentGetCount, 18,
			`(?:count|how many) (?:the )?(.+?)(?: are there)?\??`, targetOnly,
			"How many rows are there?"),
		rule("read_generic", CategoryQuery, IntentGetText, 55,
			`read (?:the )?(.+)`, targetOnly,
			"Read the confirmation message"),
	}
}
