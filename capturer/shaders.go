package capturer

// Compute shaders for the motion-sampling accumulator and the velocity
// overlay. All of them use the same 8x8 thread-group size as the Encoder's
// conversion pass; dispatches are ceil(width/8) x ceil(height/8).

// accumulateShader adds one weighted sub-frame into the high-precision
// accumulator: acc[xy] += rgba(subframe[xy]) * w.
const accumulateShader = `
#version 450

layout(local_size_x = 8, local_size_y = 8, local_size_z = 1) in;

layout(binding = 0, rgba8) readonly uniform image2D subframe;
layout(binding = 1, rgba32f) uniform image2D acc;
layout(binding = 2) uniform Weight {
    float w;
} weight;

layout(push_constant) uniform Push {
    ivec2 size;
} push;

void main() {
    ivec2 xy = ivec2(gl_GlobalInvocationID.xy);
    if (xy.x >= push.size.x || xy.y >= push.size.y) {
        return;
    }
    vec4 sum = imageLoad(acc, xy) + imageLoad(subframe, xy) * weight.w;
    imageStore(acc, xy, sum);
}
`

// packShader converts the accumulator back to 8-bit for handoff. The
// accumulated weights sum to 1 per output frame, so a plain clamp suffices.
const packShader = `
#version 450

layout(local_size_x = 8, local_size_y = 8, local_size_z = 1) in;

layout(binding = 0, rgba32f) readonly uniform image2D acc;
layout(binding = 1, rgba8) writeonly uniform image2D dst;

layout(push_constant) uniform Push {
    ivec2 size;
} push;

void main() {
    ivec2 xy = ivec2(gl_GlobalInvocationID.xy);
    if (xy.x >= push.size.x || xy.y >= push.size.y) {
        return;
    }
    vec4 v = clamp(imageLoad(acc, xy), 0.0, 1.0);
    imageStore(dst, xy, vec4(v.rgb, 1.0));
}
`

// blitShader copies a sub-frame straight into the shared texture, the
// motion-blur-disabled emit path.
const blitShader = `
#version 450

layout(local_size_x = 8, local_size_y = 8, local_size_z = 1) in;

layout(binding = 0, rgba8) readonly uniform image2D src;
layout(binding = 1, rgba8) writeonly uniform image2D dst;

layout(push_constant) uniform Push {
    ivec2 size;
} push;

void main() {
    ivec2 xy = ivec2(gl_GlobalInvocationID.xy);
    if (xy.x >= push.size.x || xy.y >= push.size.y) {
        return;
    }
    imageStore(dst, xy, imageLoad(src, xy));
}
`

// overlayShader composites one SDF glyph onto the in-flight frame. One
// dispatch per glyph, sized to the glyph's cell; the distance field gives
// fill-plus-outline with smooth edges.
const overlayShader = `
#version 450

layout(local_size_x = 8, local_size_y = 8, local_size_z = 1) in;

layout(binding = 0, rgba8) uniform image2D dst;
layout(binding = 1, r8) readonly uniform image2D atlas;

layout(push_constant) uniform Push {
    ivec2 dstOffset;
    ivec2 atlasOffset;
    ivec2 glyphSize;
    vec4  fillColor;
    vec4  outlineColor;
    float outlineWidth;
} push;

void main() {
    ivec2 g = ivec2(gl_GlobalInvocationID.xy);
    if (g.x >= push.glyphSize.x || g.y >= push.glyphSize.y) {
        return;
    }

    float d = imageLoad(atlas, push.atlasOffset + g).r;

    // 0.5 is stb_truetype's on-edge value; below it is outside the glyph.
    float edge = 0.5;
    float fill = smoothstep(edge - 0.04, edge + 0.04, d);
    float outlined = smoothstep(edge - push.outlineWidth - 0.04, edge - push.outlineWidth + 0.04, d);

    vec4 color = mix(push.outlineColor, push.fillColor, fill);
    float alpha = max(fill * push.fillColor.a, outlined * push.outlineColor.a);
    if (alpha <= 0.0) {
        return;
    }

    ivec2 xy = push.dstOffset + g;
    vec4 base = imageLoad(dst, xy);
    imageStore(dst, xy, vec4(mix(base.rgb, color.rgb, alpha), base.a));
}
`
